package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tejashwikalptaru/encore/internal/config"
)

func newConfigCommand() *cobra.Command {
	var keys []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "List the configuration keys, their environment variables and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := config.Fields()
			if len(keys) > 0 {
				for _, k := range keys {
					if _, ok := config.Default[k]; !ok {
						return fmt.Errorf("unknown key %s", k)
					}
				}
				fields = lo.Filter(fields, func(f config.Field, _ int) bool {
					return lo.Contains(keys, f.Key)
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				type entry struct {
					Key         string `json:"key"`
					Env         string `json:"env"`
					Default     any    `json:"default"`
					Description string `json:"description"`
				}
				entries := lo.Map(fields, func(f config.Field, _ int) entry {
					return entry{Key: f.Key, Env: f.Env(), Default: fmt.Sprint(f.Value), Description: f.Description}
				})
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			var b strings.Builder
			for i, f := range fields {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%s\n  env:     %s\n  default: %v\n  %s\n", f.Key, f.Env(), f.Value, f.Description)
			}
			_, err := fmt.Fprint(out, b.String())
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&keys, "key", "k", nil, "Only show these keys")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print as JSON")
	return cmd
}
