package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/injector"
)

type InspectOptions struct {
	*RootOptions
	Format string
}

// collectionView is what inspect prints for one collection.
type collectionView struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Policy   string            `json:"policy"`
	Strategy string            `json:"strategy"`
	Vector   map[string]uint64 `json:"vector"`
	Pending  int               `json:"pending_conflicts"`
	Value    any               `json:"value"`
}

func NewInspectCommand(root *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "inspect [collection...]",
		Short: "Print collections stored by a replica",
		Long: `Open the configured storage without networking and print every collection
(or only the named ones) with its version vector and current value.

Example:
  crdtsync inspect -c node.yaml
  crdtsync inspect -c node.yaml --format json todos`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			m, cleanup, err := injector.InitializeManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			views, err := inspect(m, args)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			printViews(cmd.OutOrStdout(), m.ID().String(), views)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	return cmd
}

func inspect(m *manager.Manager, names []string) ([]collectionView, error) {
	if len(names) == 0 {
		names = m.List()
	}
	views := make([]collectionView, 0, len(names))
	for _, name := range names {
		c, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		vector := make(map[string]uint64)
		for _, e := range c.Vector().Entries() {
			vector[e.Replica.String()] = e.Seq
		}
		views = append(views, collectionView{
			Name:     name,
			Kind:     c.Kind().String(),
			Policy:   c.Policy().String(),
			Strategy: c.Strategy().String(),
			Vector:   vector,
			Pending:  len(c.Pending()),
			Value:    describe(c.Snapshot()),
		})
	}
	return views, nil
}

// describe renders a state as plain values.
func describe(state crdt.State) any {
	switch s := state.(type) {
	case *crdt.LWWRegister:
		if v, ok := s.Get(); ok {
			return string(v)
		}
		return nil
	case *crdt.LWWMap:
		out := make(map[string]string)
		for _, k := range s.Live() {
			v, _ := s.Get(k)
			out[k] = string(v)
		}
		return out
	case *crdt.GCounter:
		return s.Value()
	case *crdt.Sequence:
		out := make([]string, 0, s.Len())
		for _, v := range s.Values() {
			out = append(out, string(v))
		}
		return out
	case *crdt.Graph:
		edges := make([]string, 0)
		for _, e := range s.Edges() {
			edges = append(edges, e.From+"->"+e.To)
		}
		return map[string][]string{"vertices": s.Vertices(), "edges": edges}
	case *crdt.Tree:
		out := make(map[string][]string)
		for _, id := range s.Nodes() {
			out[id] = s.Children(id)
		}
		return map[string]any{"roots": s.Roots(), "children": out}
	default:
		return nil
	}
}

func printViews(w io.Writer, replicaID string, views []collectionView) {
	fmt.Fprintf(w, "replica %s\n", replicaID)
	for _, v := range views {
		fmt.Fprintf(w, "\n%s (%s, %s, %s)\n", v.Name, v.Kind, v.Policy, v.Strategy)
		origins := make([]string, 0, len(v.Vector))
		for origin := range v.Vector {
			origins = append(origins, origin)
		}
		slices.Sort(origins)
		for _, origin := range origins {
			fmt.Fprintf(w, "  vv %s = %d\n", origin, v.Vector[origin])
		}
		if v.Pending > 0 {
			fmt.Fprintf(w, "  pending conflicts: %d\n", v.Pending)
		}
		fmt.Fprintf(w, "  value: %v\n", v.Value)
	}
}
