package server

import (
	"context"
	"net"
	"testing"

	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/engine/detectors"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
	"github.com/triage-ai/palisade-rasp/internal/service"
	"github.com/triage-ai/palisade-rasp/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// testServer spins up an in-process gRPC server and returns a connected client.
func testServer(t *testing.T, mode string) (*RaspServiceClient, *grpc.ClientConn) {
	t.Helper()

	logger := zap.NewNop()
	cache := engine.NewQueryCache(engine.DefaultQueryCacheSize)
	eng := engine.New(engine.Options{
		Matrix: engine.NewMatrixHolder(matrix.Default()),
		Cache:  cache,
		Logger: logger,
	})
	detectors.Register(eng, cache)

	evaluator := service.NewEvaluator(eng, storage.NewLogWriter(logger), nil, logger)
	srv := NewRaspServer(evaluator, auth.NewStaticAuthenticator("", mode), logger)
	grpcServer, _ := NewGRPCServer(srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
	})
	return NewRaspServiceClient(conn), conn
}

func authedCtx() context.Context {
	md := metadata.Pairs(
		"authorization", "Bearer tsk_test_key",
		"x-project-id", "proj_integration_test",
	)
	return metadata.NewOutgoingContext(context.Background(), md)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestIntegration_Verdicts(t *testing.T) {
	client, _ := testServer(t, auth.ModeEnforce)

	tests := []struct {
		name      string
		req       map[string]any
		action    string
		algorithm string
	}{
		{
			name: "benign query",
			req: map[string]any{
				"type":   "sql",
				"params": map[string]any{"query": "select * from users where id = 1", "server": "mysql"},
			},
			action: "ignore",
		},
		{
			name: "stacked query",
			req: map[string]any{
				"type":   "sql",
				"params": map[string]any{"query": "select 1;drop table users", "server": "mysql"},
			},
			action:    "block",
			algorithm: "sqli_policy",
		},
		{
			name: "cloud metadata",
			req: map[string]any{
				"type": "ssrf",
				"params": map[string]any{
					"hostname": "169.254.169.254",
					"url":      "http://169.254.169.254/latest/meta-data/",
					"ip":       []any{"169.254.169.254"},
				},
			},
			action:    "block",
			algorithm: "ssrf_aws",
		},
		{
			name: "user input traversal",
			req: map[string]any{
				"type":    "readFile",
				"params":  map[string]any{"path": "../../../home/app/notes.txt", "realpath": "/home/app/notes.txt"},
				"context": map[string]any{"parameter": map[string]any{"file": []any{"../../../home/app/notes.txt"}}},
			},
			action:    "block",
			algorithm: "readFile_userinput",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Evaluate(authedCtx(), mustStruct(t, tt.req))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			fields := resp.AsMap()
			if fields["action"] != tt.action {
				t.Fatalf("action = %v, want %s (%v)", fields["action"], tt.action, fields)
			}
			if tt.algorithm != "" && fields["algorithm"] != tt.algorithm {
				t.Errorf("algorithm = %v, want %s", fields["algorithm"], tt.algorithm)
			}
			if tt.action != "ignore" && fields["request_id"] == "" {
				t.Error("attacks carry a request id")
			}
		})
	}
}

func TestIntegration_ShadowMode(t *testing.T) {
	client, _ := testServer(t, auth.ModeShadow)

	resp, err := client.Evaluate(authedCtx(), mustStruct(t, map[string]any{
		"type":   "sql",
		"params": map[string]any{"query": "select 1;drop table users", "server": "mysql"},
	}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	fields := resp.AsMap()
	if fields["action"] != "ignore" || fields["confidence"] != float64(0) || fields["is_shadow"] != true {
		t.Errorf("shadow project should get a clean verdict with is_shadow, got %v", fields)
	}
	if fields["algorithm"] != "" || fields["detected_algorithm"] != "sqli_policy" || fields["detected_action"] != "block" {
		t.Errorf("shadow response should report the detection under detected_*, got %v", fields)
	}
}

func TestIntegration_Errors(t *testing.T) {
	client, _ := testServer(t, auth.ModeEnforce)

	tests := []struct {
		name string
		ctx  context.Context
		req  map[string]any
		code codes.Code
	}{
		{
			name: "no credentials",
			ctx:  context.Background(),
			req:  map[string]any{"type": "sql"},
			code: codes.Unauthenticated,
		},
		{
			name: "unknown kind",
			ctx:  authedCtx(),
			req:  map[string]any{"type": "telepathy", "params": map[string]any{}},
			code: codes.InvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Evaluate(tt.ctx, mustStruct(t, tt.req))
			if status.Code(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	_, conn := testServer(t, auth.ModeEnforce)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %s", resp.Status)
	}
}
