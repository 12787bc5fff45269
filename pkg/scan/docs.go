package scan

/*
Package scan provides the finding generators that drive each phase of a scan.

The main functions and types in this package are:

Generator
    Produces finding drafts for one phase of a scan against a target.

    Generate(ctx, target, category, phase) ([]FindingDraft, error)
        Returns the findings discovered in the phase. Failures of an external
        tool are returned as a *GeneratorError.

Phases
    Returns the ordered phase names for a scan category.

NewCatalogGenerator
    Creates a generator backed by the embedded YAML catalog of findings.
    Entries with a probability are included at random; use WithRand for
    deterministic output.

NewNmapGenerator
    Creates a generator that runs nmap during the port_scan phase of network
    scans and delegates every other phase to a fallback generator.

NewGenerator
    Builds a generator by name ("catalog" or "nmap").

Example usage:

    gen, err := scan.NewGenerator(scan.KindNmap, executor.NewCommandExecutor())
    if err != nil {
        // Handle error
    }

    ctx = scan.WithOptions(ctx, scan.Options{PortRange: "22,80,443", Intensity: 3})
    for _, phase := range scan.Phases(model.CategoryNetwork) {
        drafts, err := gen.Generate(ctx, "198.51.100.7", model.CategoryNetwork, phase)
        if err != nil {
            // Handle error
        }
        fmt.Println(phase, len(drafts))
    }
*/
