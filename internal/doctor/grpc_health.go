package doctor

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// checkGRPCHealth queries grpc.health.v1 on a self-hosted inference server.
func checkGRPCHealth(endpoint string) Check {
	name := "processing.grpc_health"

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("dial %s: %v", endpoint, err)}
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("health check %s: %v", endpoint, err)}
	}

	rendered, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(resp)
	if err != nil {
		rendered = []byte(resp.GetStatus().String())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s reports %s", endpoint, rendered)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s reports %s", endpoint, rendered)}
}
