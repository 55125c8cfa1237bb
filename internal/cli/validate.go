package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/bench"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
)

// kindAuto detects the document kind from its keys.
const kindAuto = "auto"

func newValidateCmd(_ *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check scenario, parameter and suite documents without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				k, err := validateFile(path, kind)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s)\n", path, k)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d documents invalid: %w", len(errs), len(args), errors.Join(errs...))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindAuto, "document kind: auto, scenario, params or suite")
	return cmd
}

func validateFile(path, kind string) (string, error) {
	if kind == kindAuto {
		doc, err := config.ReadDocument(path)
		if err != nil {
			return "", err
		}
		kind = detectKind(doc)
	}
	var err error
	switch kind {
	case config.SchemaScenario:
		_, err = scenario.Load(path)
	case config.SchemaParams:
		_, err = config.LoadStackParams(path)
	case config.SchemaSuite:
		_, err = bench.LoadSuite(path)
	default:
		return "", config.Invalid(path, "", "unknown document kind %q", kind)
	}
	return kind, err
}

// detectKind guesses a document's kind from its top-level keys: suites list scenarios,
// scenarios are named, everything else is a parameter set.
func detectKind(doc []byte) string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return config.SchemaParams
	}
	if _, ok := top["scenarios"]; ok {
		return config.SchemaSuite
	}
	if _, ok := top["name"]; ok {
		return config.SchemaScenario
	}
	return config.SchemaParams
}
