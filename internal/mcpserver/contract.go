package mcpserver

// ModelFormatContract describes the canonical YAML model document format that
// LLM consumers should follow when creating or validating models.
const ModelFormatContract = `# Cascade Model Document Contract

Every model document stored in Cascade MUST follow this YAML structure.

## Structure

` + "```" + `yaml
name: sir                           # REQUIRED - model identifier
compartments:                       # REQUIRED - at least one
  - name: sus                       # code name: lowercase, no spaces
    display: Susceptible            # optional display label
    default: 990                    # optional initial number of people
  - name: births
    source: true                    # people enter the system here
  - name: dead
    sink: true                      # people leave the system here
characteristics:                    # OPTIONAL - named groups of compartments
  - name: alive
    components: [sus, inf, rec]     # compartments or other characteristics
    denominator: alive              # optional, makes this a fraction
    default: 1000                   # optional initialization target
parameters:                         # REQUIRED - at least one
  - name: foi
    units: probability              # number | probability | duration | proportion
    default: 0.2                    # constant databook value
  - name: screen
    units: probability
    function: num_screen/max(undx,num_screen)   # formula over other quantities
    min: 0                          # optional clamp bounds
    max: 1
transitions:                        # flows between compartments
  - {from: sus, to: inf, parameter: foi}
cascades:                           # OPTIONAL - stage progressions
  - name: care
    stages:
      - {name: Prevalent, constituents: [alive]}
` + "```" + `

## Rules

1. **Code names are identifiers.** Lowercase letters, digits, and underscores;
   no reserved words (t, dt) and no duplicates across entity kinds.
2. **Units govern flow conversion.** probability and duration values are
   per-year rates; number values are absolute counts per year; proportion is
   only valid on flows out of junction compartments.
3. **Formulas** may reference compartments, characteristics, and other
   parameters by code name, plus the time variable t. Supported operators:
   + - * / ^, unary minus, and the functions exp, floor, ceil, min, max.
4. **Initialization** comes from compartment and characteristic defaults; the
   declared values must be mutually consistent and non-negative.
5. **Source compartments** may only receive number-unit inflows and sinks may
   not have outflows. Junction compartments empty every timestep.
6. **File paths** end with .yaml or .yml and use forward slashes.
`
