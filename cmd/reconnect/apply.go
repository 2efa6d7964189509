package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/reconnect/pkg/client"
	"github.com/cuemby/reconnect/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Queue the jobs listed in a YAML file",
	Long: `Queue reconciliation jobs from a YAML file. Jobs already in the queue
are updated and retried; new jobs are added.

Example file:
  kind: Jobs
  spec:
    providerId: "1000"
    transitive: true
    users: ["1", "2", "3"]
  ---
  kind: Job
  spec:
    dsnpId: "4"
    providerId: "1000"

Examples:
  reconnect apply -f jobs.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	addClientFlags(applyCmd)
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one document of an apply file
type Resource struct {
	Kind string       `yaml:"kind"`
	Spec ResourceSpec `yaml:"spec"`
}

// ResourceSpec describes one job (kind Job) or a batch of users sharing a
// provider (kind Jobs)
type ResourceSpec struct {
	UserID     string   `yaml:"dsnpId"`
	Users      []string `yaml:"users"`
	ProviderID string   `yaml:"providerId"`
	Transitive bool     `yaml:"transitive"`
}

// parseResources reads every YAML document in r
func parseResources(r io.Reader) ([]types.ReconciliationJob, error) {
	dec := yaml.NewDecoder(r)

	var jobs []types.ReconciliationJob
	for {
		var resource Resource
		err := dec.Decode(&resource)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}

		spec := resource.Spec
		switch resource.Kind {
		case "Job":
			jobs = append(jobs, types.NewJob(spec.UserID, spec.ProviderID, spec.Transitive))
		case "Jobs":
			for _, user := range spec.Users {
				jobs = append(jobs, types.NewJob(user, spec.ProviderID, spec.Transitive))
			}
		default:
			return nil, fmt.Errorf("unsupported resource kind: %q", resource.Kind)
		}
	}

	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	jobs, err := parseResources(f)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	c := newClient(cmd)
	for _, job := range jobs {
		if err := applyJob(ctx, cmd, c, job); err != nil {
			return err
		}
	}
	return nil
}

func applyJob(ctx context.Context, cmd *cobra.Command, c *client.Client, job types.ReconciliationJob) error {
	out := cmd.OutOrStdout()

	_, err := c.GetJob(ctx, job.Key())
	var apiErr *client.APIError
	switch {
	case err == nil:
		if _, err := c.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to update job %s: %w", job.Key(), err)
		}
		fmt.Fprintf(out, "✓ Job updated: %s\n", job.Key())
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		if _, err := c.AddJob(ctx, job); err != nil {
			return fmt.Errorf("failed to add job %s: %w", job.Key(), err)
		}
		fmt.Fprintf(out, "✓ Job queued: %s\n", job.Key())
	default:
		return err
	}
	return nil
}
