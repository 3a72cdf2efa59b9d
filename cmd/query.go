package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Ethernal-Tech/cardano-projector/config"
	"github.com/Ethernal-Tech/cardano-projector/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const (
	queryGrowOnlySet   = "gset"
	queryTwoPhaseSet   = "2pset"
	queryLastWriteWins = "lww"
	queryCounter       = "counter"
	querySortedSet     = "zset"
	queryAnyWriteWins  = "aww"
)

var queryKinds = []string{
	queryGrowOnlySet, queryTwoPhaseSet, queryLastWriteWins, queryCounter, querySortedSet, queryAnyWriteWins,
}

var queryCmd = &cobra.Command{
	Use:   "query <kind> <key>",
	Short: "Print a projected value",
	Long: "Reads a value written by the reducers. Kind is one of " + strings.Join(queryKinds, ", ") +
		", key is the full key including the reducer prefix.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(queryKinds, args[0]) {
			return fmt.Errorf("unknown query kind: %s", args[0])
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg, hclog.NewNullLogger())
		if err != nil {
			return err
		}

		defer store.Close()

		return printProjection(cmd.Context(), cmd.OutOrStdout(), store, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func printProjection(ctx context.Context, out io.Writer, reader storage.Reader, kind, key string) error {
	switch kind {
	case queryGrowOnlySet, queryTwoPhaseSet:
		read := reader.GrowOnlySet
		if kind == queryTwoPhaseSet {
			read = reader.TwoPhaseSet
		}

		members, err := read(ctx, key)
		if err != nil {
			return err
		}

		for _, member := range members {
			fmt.Fprintln(out, member)
		}
	case queryLastWriteWins:
		value, timestamp, err := reader.LastWriteWins(ctx, key)
		if err != nil {
			return err
		}

		if value != nil {
			fmt.Fprintf(out, "%s @ %d\n", value, timestamp)
		}
	case queryCounter:
		value, err := reader.Counter(ctx, key)
		if err != nil {
			return err
		}

		fmt.Fprintln(out, value)
	case querySortedSet:
		scores, err := reader.SortedSet(ctx, key)
		if err != nil {
			return err
		}

		members := make([]string, 0, len(scores))
		for member := range scores {
			members = append(members, member)
		}

		// highest score first
		slices.SortFunc(members, func(a, b string) int {
			if c := cmp.Compare(scores[b], scores[a]); c != 0 {
				return c
			}

			return strings.Compare(a, b)
		})

		for _, member := range members {
			fmt.Fprintf(out, "%s %d\n", member, scores[member])
		}
	case queryAnyWriteWins:
		value, err := reader.AnyWriteWins(ctx, key)
		if err != nil {
			return err
		}

		if value != nil {
			fmt.Fprintf(out, "%s\n", value)
		}
	default:
		return fmt.Errorf("unknown query kind: %s", kind)
	}

	return nil
}
