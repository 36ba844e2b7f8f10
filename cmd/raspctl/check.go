package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/engine/detectors"
	"github.com/triage-ai/palisade-rasp/internal/eventcodec"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
	"github.com/triage-ai/palisade-rasp/internal/server"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

func newCheckCmd() *cobra.Command {
	var eventPath string
	var matrixPath string
	var serverAddr string
	var apiKey string
	var projectID string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a recorded event (YAML or JSON envelope)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventPath == "" {
				return errors.New("event path is required")
			}
			env, err := readEnvelope(eventPath)
			if err != nil {
				return err
			}

			var fields map[string]any
			if serverAddr != "" {
				fields, err = checkRemote(cmd.Context(), serverAddr, apiKey, projectID, env)
			} else {
				fields, err = checkLocal(matrixPath, env)
			}
			if err != nil {
				return err
			}
			return writeVerdict(cmd.OutOrStdout(), fields)
		},
	}

	cmd.Flags().StringVarP(&eventPath, "file", "f", "", "Path to event file")
	cmd.Flags().StringVarP(&matrixPath, "matrix", "m", "", "Algorithm matrix (default: built-in)")
	cmd.Flags().StringVar(&serverAddr, "server", "", "Evaluate against a running rasp-server gRPC address instead")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("RASP_API_KEY"), "API key for --server")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID for --server with static auth")

	return cmd
}

// readEnvelope reads an event file. YAML is a superset of JSON, so one
// decoder handles both, keeping parameter order.
func readEnvelope(path string) (eventcodec.Envelope, error) {
	var env eventcodec.Envelope
	data, err := os.ReadFile(path)
	if err != nil {
		return env, fmt.Errorf("read event: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return env, errors.New("event file is empty")
	}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("parse event: %w", err)
	}
	return env, nil
}

func checkLocal(matrixPath string, env eventcodec.Envelope) (map[string]any, error) {
	m := matrix.Default()
	if matrixPath != "" {
		var err error
		if m, _, err = matrix.Load(matrixPath); err != nil {
			return nil, err
		}
	}

	ev, rc, err := env.Decode()
	if err != nil {
		return nil, err
	}

	cache := engine.NewQueryCache(engine.DefaultQueryCacheSize)
	eng := engine.New(engine.Options{
		Matrix: engine.NewMatrixHolder(m),
		Cache:  cache,
		Logger: zap.NewNop(),
	})
	detectors.Register(eng, cache)
	return eventcodec.VerdictFields(eng.Evaluate(ev, rc)), nil
}

func checkRemote(ctx context.Context, addr, apiKey, projectID string, env eventcodec.Envelope) (map[string]any, error) {
	if apiKey == "" {
		return nil, errors.New("--api-key or RASP_API_KEY is required with --server")
	}
	req, err := structpb.NewStruct(env.Map())
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+apiKey)
	if projectID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-project-id", projectID)
	}

	resp, err := server.NewRaspServiceClient(conn).Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

func writeVerdict(w io.Writer, fields map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fields)
}
