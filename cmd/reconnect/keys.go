package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/reconnect/pkg/graph"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage graph encryption keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an X25519 graph key pair",
	Long: `Generate an X25519 graph key pair in the format providers return in
graphKeyPairs. Useful for seeding a development provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := graph.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}
		data, err := json.MarshalIndent(kp.ProviderKeyPair(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(keysCmd)
}
