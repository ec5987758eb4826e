package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/minigrid/babytask"
	"github.com/minigrid/babytask/internal/runstore"
)

// Flag variables for the describe command
var (
	describeModel string
	describeDot   string
	describeStore string
)

// DescribeCmd prints a checkpoint's architecture or lists stored runs.
var DescribeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe a checkpoint or list stored runs",
	Long: `Describe the architecture of a checkpoint, optionally rendering it
as graphviz dot, or list the runs recorded in a sqlite run store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if describeModel == "" && describeStore == "" {
			return errors.New("nothing to describe: set --model or --store")
		}
		if describeModel != "" {
			if err := describeCheckpoint(describeModel, describeDot); err != nil {
				return err
			}
		}
		if describeStore != "" {
			if err := describeRuns(describeStore); err != nil {
				return err
			}
		}
		return nil
	},
}

func describeCheckpoint(filename, dotFile string) error {
	v, err := babytask.LoadVAE(filename)
	if err != nil {
		return err
	}
	defer v.Close()

	fmt.Printf("%s\n", filename)
	fmt.Printf("  obs %d | act %d | rew %d | task emb %d\n", v.ObsDim, v.ActDim, v.RewDim, v.TaskEmbDim)
	fmt.Printf("  hiddens %v | activation %s | layer norm %v\n", v.Hiddens, v.Activation, v.LayerNorm)

	params := v.Params()
	var scalars int
	for _, p := range params {
		scalars += p.Shape().TotalSize()
	}
	fmt.Printf("  %d parameter tensors, %d scalars\n", len(params), scalars)

	if dotFile != "" {
		s, err := v.ToDot()
		if err != nil {
			return err
		}
		if err := os.WriteFile(dotFile, []byte(s), 0644); err != nil {
			return errors.WithStack(err)
		}
		fmt.Printf("  dot -> %s\n", dotFile)
	}
	return nil
}

func describeRuns(path string) error {
	store, err := runstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tNAME\tCREATED\tUPDATES\tLAST TOTAL")
	for _, r := range runs {
		ms, err := store.Metrics(ctx, r.ID)
		if err != nil {
			return err
		}
		last := "-"
		updates := 0
		if n := len(ms); n > 0 {
			updates = ms[n-1].Update
			last = fmt.Sprintf("%.4f", ms[n-1].Total)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Created.Format("2006-01-02 15:04:05"), updates, last)
	}
	return w.Flush()
}

func init() {
	f := DescribeCmd.Flags()
	f.StringVar(&describeModel, "model", "", "checkpoint to describe")
	f.StringVar(&describeDot, "dot", "", "write the architecture as graphviz dot to this file")
	f.StringVar(&describeStore, "store", "", "sqlite run store to list")
}
