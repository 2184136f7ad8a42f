// Package cli implements graphctl, an operator tool for the remote graph.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/graph"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RemoteOpener returns the configured graph backend and a release func
type RemoteOpener func(ctx context.Context) (graph.Remote, func() error, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration

	open RemoteOpener
}

// NewRootCommand creates the root command for graphctl.
func NewRootCommand(open RemoteOpener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "graphctl",
		Short: "Inspect and manage the mirrored Discord graph",
		Long:  "graphctl talks to the graph backend configured in the environment (GRAPH_BACKEND and friends).",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "deadline for backend calls")

	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newDownloadCommand(opts))
	cmd.AddCommand(newMentionsCommand(opts))

	return cmd
}

// withRemote opens the backend, runs fn under the command deadline and
// releases the backend
func (o *RootOptions) withRemote(cmd *cobra.Command, fn func(ctx context.Context, remote graph.Remote) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	remote, release, err := o.open(ctx)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, remote)
}

func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

type createResult struct {
	GraphID string `json:"graph_id"`
	URL     string `json:"url,omitempty"`
}

func newCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create an empty graph with the mirror's node and edge types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRemote(cmd, func(ctx context.Context, remote graph.Remote) error {
				id, err := remote.CreateGraph(ctx)
				if err != nil {
					return err
				}
				res := createResult{GraphID: id, URL: remote.GraphURL(id)}
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Created graph %s\n", res.GraphID)
					if res.URL != "" {
						fmt.Fprintf(w, "%s\n", res.URL)
					}
				})
			})
		},
	}
}

type downloadResult struct {
	GraphID string         `json:"graph_id"`
	Nodes   map[string]int `json:"nodes"`
	Edges   map[string]int `json:"edges"`
}

func newDownloadCommand(opts *RootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "download <graph-id>",
		Short: "Summarize a graph, or dump it with --full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRemote(cmd, func(ctx context.Context, remote graph.Remote) error {
				data, err := remote.DownloadGraph(ctx, args[0])
				if err != nil {
					return err
				}
				if full {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(data)
				}

				res := summarizeGraph(args[0], data)
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Graph %s\n", res.GraphID)
					for _, kind := range []string{constants.NodeUser, constants.NodeChannel, constants.NodeMessage} {
						fmt.Fprintf(w, "  %-8s %d\n", kind, res.Nodes[kind])
					}
					for _, kind := range []string{constants.EdgeMemberOf, constants.EdgeSentMessage, constants.EdgeMessageIn, constants.EdgeMentions} {
						fmt.Fprintf(w, "  %-12s %d\n", kind, res.Edges[kind])
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "print every node and edge as JSON")
	return cmd
}

func summarizeGraph(graphID string, data *graph.GraphData) downloadResult {
	res := downloadResult{GraphID: graphID, Nodes: map[string]int{}, Edges: map[string]int{}}
	for _, n := range data.Nodes {
		res.Nodes[n.Type]++
	}
	for _, e := range data.Edges {
		res.Edges[e.Name]++
	}
	return res
}

type mentionsResult struct {
	UserID    string   `json:"user_id"`
	Direction string   `json:"direction"`
	Users     []string `json:"users"`
}

func newMentionsCommand(opts *RootOptions) *cobra.Command {
	var by bool

	cmd := &cobra.Command{
		Use:   "mentions <graph-id> <user-id>",
		Short: "List who mentions a user, or whom the user mentions with --by",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graphID, userID := args[0], args[1]
			return opts.withRemote(cmd, func(ctx context.Context, remote graph.Remote) error {
				data, err := remote.DownloadGraph(ctx, graphID)
				if err != nil {
					return err
				}
				nodeID, ok := userNode(data, userID)
				if !ok {
					return fmt.Errorf("user %s is not in graph %s", userID, graphID)
				}

				res := mentionsResult{UserID: userID, Direction: "for"}
				if by {
					res.Direction = "by"
					res.Users, err = remote.Mentioned(ctx, graphID, nodeID)
				} else {
					res.Users, err = remote.Mentioners(ctx, graphID, nodeID)
				}
				if err != nil {
					return err
				}
				if res.Users == nil {
					res.Users = []string{}
				}

				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					if len(res.Users) == 0 {
						fmt.Fprintln(w, "No mentions")
						return
					}
					for _, id := range res.Users {
						fmt.Fprintln(w, id)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&by, "by", false, "list users mentioned by the user instead")
	return cmd
}

// userNode finds the User node carrying a platform user id
func userNode(data *graph.GraphData, userID string) (string, bool) {
	for _, n := range data.Nodes {
		if n.Type == constants.NodeUser && n.StringProperty(constants.PropUserID) == userID {
			return n.ID, true
		}
	}
	return "", false
}
