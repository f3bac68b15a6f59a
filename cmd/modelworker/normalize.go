package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/apex-x/modelworker/internal/inference"
	"github.com/apex-x/modelworker/internal/service"
)

type normalizedRequest struct {
	RequestID  string                   `json:"requestId"`
	Inputs     inference.Input          `json:"inputs"`
	Properties *inference.PropertyTable `json:"properties"`
	DataBytes  int                      `json:"dataBytes"`
}

func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <batch.json>",
		Short: "Print the normalized form of a JSON batch (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() {
					_ = f.Close()
				}()
				in = f
			}
			return runNormalize(in, cmd.OutOrStdout())
		},
	}
}

func runNormalize(in io.Reader, out io.Writer) error {
	var reqs []service.PredictRequest
	if err := json.NewDecoder(in).Decode(&reqs); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}
	batch, err := inference.Normalize(service.RawBatch(reqs))
	if err != nil {
		return err
	}
	view := make([]normalizedRequest, batch.Len())
	for idx := range view {
		view[idx] = normalizedRequest{
			RequestID:  batch.IDs[idx],
			Inputs:     batch.Inputs[idx],
			Properties: batch.Properties[idx],
			DataBytes:  len(batch.Payloads[idx]),
		}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(view)
}
