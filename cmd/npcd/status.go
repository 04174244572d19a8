package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/transport"
	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running npcd over gRPC",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "gRPC address (default: server.grpc_addr)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		addr = cfg.Server.GRPCAddr
	}
	client, err := transport.NewDecisionClient(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:          %s\n", st.State)
	fmt.Fprintf(out, "Policy:         %s\n", st.PolicyKind)
	fmt.Fprintf(out, "Log size:       %d\n", st.LogSize)
	fmt.Fprintf(out, "Interactions:   %d\n", st.Interactions)
	fmt.Fprintf(out, "Retrain cycles: %d\n", st.RetrainCycles)
	if st.ModelVersion != "" {
		fmt.Fprintf(out, "Model version:  %s\n", st.ModelVersion)
	}
	if st.LastRetrain != nil {
		fmt.Fprintf(out, "Last retrain:   cycle %v, %v, %v samples\n",
			st.LastRetrain["cycle"], st.LastRetrain["status"], st.LastRetrain["samples"])
		if e, ok := st.LastRetrain["error"]; ok {
			fmt.Fprintf(out, "                %v\n", e)
		}
	}
	return nil
}
