package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check vidsight server health",
	Long: `Check the health status of the vidsight HTTP server.

Examples:
  # Check health
  vidctl health

  # Check health on a different server
  vidctl health --server http://localhost:9090`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the caller's sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var recordsCmd = &cobra.Command{
	Use:   "records <id>",
	Short: "Show the analysis results of a session in window order",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecords,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a recording session",
	Long: `Create a recording session and print its id.

Examples:
  vidctl create --user u1
  vidctl create --user u1 --mode full --storage oss --keep-video`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <id> <index> <file>",
	Short: "Upload one chunk of a session",
	Args:  cobra.ExactArgs(3),
	RunE:  runUpload,
}

var titleCmd = &cobra.Command{
	Use:   "title <id> <title>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runTitle,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session with its results and kept videos",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the server's window settings and recommended chunk length",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	createCmd.Flags().String("mode", "", "analysis mode: sliding_window (default) or full")
	createCmd.Flags().String("storage", "", "storage backend tag: minio, oss or cos")
	createCmd.Flags().String("model", "", "AI model name")
	createCmd.Flags().Bool("keep-video", false, "keep uploaded videos after the session ends")

	uploadCmd.Flags().Float64("duration", 0, "declared chunk duration in seconds")
	uploadCmd.Flags().Bool("last", false, "mark this chunk as the last of the session")
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp HealthResponse
	if err := newClient().getJSON("/health", &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	var s SessionResponse
	if err := newClient().getJSON("/api/v1/sessions/"+args[0], &s); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", s.ID)
	fmt.Fprintf(out, "Status:   %s\n", s.Status)
	if s.Title != "" {
		fmt.Fprintf(out, "Title:    %s\n", s.Title)
	}
	fmt.Fprintf(out, "Mode:     %s\n", s.AnalysisMode)
	fmt.Fprintf(out, "Model:    %s\n", s.AIModel)
	fmt.Fprintf(out, "Storage:  %s (keep video: %t)\n", s.StorageType, s.KeepVideo)
	fmt.Fprintf(out, "Length:   %.1fs\n", s.CurrentVideoLength)
	fmt.Fprintf(out, "Chunks:   %d received, %d analyzed\n", s.TotalChunks, s.AnalyzedChunks)
	return nil
}

func runTitle(cmd *cobra.Command, args []string) error {
	var s SessionResponse
	if err := newClient().putJSON("/api/v1/sessions/"+args[0]+"/title", UpdateTitleRequest{Title: args[1]}, &s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s renamed to %q\n", s.ID, s.Title)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().delete("/api/v1/sessions/" + args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	var cfg ConfigResponse
	if err := newClient().getJSON("/api/v1/config", &cfg); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Window:        %gs every %gs (min %gs)\n", cfg.WindowSize, cfg.WindowStep, cfg.MinWindowSize)
	fmt.Fprintf(out, "Chunk length:  %gs recommended\n", cfg.RecommendedChunkDuration)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	var list []SessionResponse
	if err := newClient().getJSON("/api/v1/sessions", &list); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tLENGTH\tTITLE")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%.1fs\t%s\n", s.ID, s.Status, s.CurrentVideoLength, s.Title)
	}
	return tw.Flush()
}

func runRecords(cmd *cobra.Command, args []string) error {
	var recs []RecordResponse
	if err := newClient().getJSON("/api/v1/sessions/"+args[0]+"/records", &recs); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No analysis results yet.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(out, "#%d [%s, %s)\n%s\n\n", r.WindowIndex, clock(r.StartOffset), clock(r.EndOffset),
			strings.TrimSpace(r.Content))
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	mode, _ := flags.GetString("mode")
	backend, _ := flags.GetString("storage")
	model, _ := flags.GetString("model")
	keep, _ := flags.GetBool("keep-video")
	mode, err := analysisMode(mode)
	if err != nil {
		return err
	}

	var s SessionResponse
	err = newClient().postJSON("/api/v1/sessions", CreateSessionRequest{
		AIModel:      model,
		AnalysisMode: mode,
		KeepVideo:    keep,
		StorageType:  backend,
	}, &s)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.ID)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid chunk index %q", args[1])
	}
	duration, _ := cmd.Flags().GetFloat64("duration")
	last, _ := cmd.Flags().GetBool("last")

	var resp ChunkAccepted
	if err := newClient().uploadChunk(args[0], index, duration, last, args[2], &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chunk %d of %s %s\n", resp.ChunkIndex, resp.SessionID, resp.Status)
	return nil
}

// clock formats seconds as m:ss.
func clock(sec float64) string {
	s := int(sec)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// analysisMode maps the --mode flag to the server's mode name. Empty
// leaves the choice to the server.
func analysisMode(flag string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "":
		return "", nil
	case "sliding_window", "sliding-window", "sliding":
		return "SLIDING_WINDOW", nil
	case "full":
		return "FULL", nil
	}
	return "", fmt.Errorf("unknown analysis mode %q: use sliding_window or full", flag)
}
