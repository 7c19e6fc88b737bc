package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/errors"
	"github.com/coral-mesh/corostack/internal/snapshot"
	"github.com/coral-mesh/corostack/pkg/remote"
)

func newDumpCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <snapshot>",
		Short: "Show every coroutine with its logical stack",
		Long: `Show every coroutine known to the debug agent of the snapshot, with the
logical stack the coroutine dump view would display.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer errors.DeferClose(e.logger, e.inspector, "failed to close inspector")

			entries, err := e.inspector.Dump(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to dump coroutines: %w", err)
			}

			out, err := e.formatter.FormatDump(entries)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newFrameCmd(opts *globalOptions) *cobra.Command {
	var (
		thread uint64
		depth  int
	)

	cmd := &cobra.Command{
		Use:   "frame <snapshot>",
		Short: "Show the logical stack seen from a boundary frame of a thread",
		Long: `Walk the native frames of a thread the way stepping does and show the
logical stack built at the first coroutine boundary frame, or at the frame
given by --depth.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer errors.DeferClose(e.logger, e.inspector, "failed to close inspector")

			ctx := cmd.Context()
			frames, err := e.inspector.Frames(ctx, remote.ThreadID(thread))
			if err != nil {
				return fmt.Errorf("failed to list frames of thread %d: %w", thread, err)
			}

			var frame *remote.Frame
			switch {
			case depth >= 0:
				if depth >= len(frames) {
					return fmt.Errorf("thread %d has %d frames, no frame at depth %d", thread, len(frames), depth)
				}
				frame = &frames[depth]
			default:
				for i := range frames {
					if e.inspector.Classifier().Classify(frames[i].Location) == classify.Boundary {
						frame = &frames[i]
						break
					}
				}
				if frame == nil {
					return fmt.Errorf("no coroutine boundary frame on thread %d", thread)
				}
			}

			logical, err := e.inspector.BuildLogicalStackFromFrame(ctx, *frame)
			if err != nil {
				return fmt.Errorf("failed to build logical stack: %w", err)
			}

			title := fmt.Sprintf("Thread %d, frame %d: %s", thread, frame.Depth, frame.Location)
			out, err := e.formatter.FormatStack(title, logical)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&thread, "thread", 0, "Thread id")
	cmd.Flags().IntVar(&depth, "depth", -1, "Frame depth (default: first boundary frame)")
	errors.Must(cmd.MarkFlagRequired("thread"), "mark thread flag required")

	return cmd
}

func newResolveCmd(opts *globalOptions) *cobra.Command {
	var ref uint64

	cmd := &cobra.Command{
		Use:   "resolve <snapshot>",
		Short: "Show the identity and continuation chain of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer errors.DeferClose(e.logger, e.inspector, "failed to close inspector")

			ctx := cmd.Context()
			r := remote.Ref{ID: remote.ObjectID(ref)}

			id, err := e.inspector.Resolve(ctx, r)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", r, err)
			}

			chain, err := e.inspector.Walk(ctx, r)
			if err != nil {
				return fmt.Errorf("failed to walk %s: %w", r, err)
			}

			out, err := e.formatter.FormatResolve(id, chain)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&ref, "ref", 0, "Object id of a coroutine or continuation")
	errors.Must(cmd.MarkFlagRequired("ref"), "mark ref flag required")

	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the snapshot format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := marshal(snapshot.Schema())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
