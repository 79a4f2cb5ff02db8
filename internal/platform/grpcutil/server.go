// Package grpcutil holds the gRPC side of the service: server options and a
// grpc.health.v1 reporter fed by the database health aggregator.
package grpcutil

import (
	"context"
	"runtime/debug"
	"time"

	"macrocoach/internal/platform/logging"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ServerOptions returns keepalive, OTel stats, panic recovery and debug
// request logging. Health Watch streams are long lived, so idle connections
// are pinged rather than dropped.
func ServerOptions(log *zap.Logger) []grpc.ServerOption {
	if log == nil {
		log = zap.NewNop()
	}
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: time.Minute,
			Time:                  2 * time.Minute,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(recoverUnary(log), logUnary(log)),
		grpc.ChainStreamInterceptor(recoverStream(log)),
	}
}

func panicErr(log *zap.Logger, method string, p any) error {
	log.Error("rpc panic recovered",
		zap.String("rpc.method", method),
		zap.Any("panic", p),
		zap.ByteString("stack", debug.Stack()),
	)
	return status.Error(codes.Internal, "internal error")
}

func recoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = panicErr(log, info.FullMethod, p)
			}
		}()
		return handler(ctx, req)
	}
}

func recoverStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = panicErr(log, info.FullMethod, p)
			}
		}()
		return handler(srv, ss)
	}
}

// logUnary logs every call at debug; health probes arrive every few seconds.
func logUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		lg := logging.WithTrace(ctx, log).With(zap.String("rpc.method", info.FullMethod))
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			lg = lg.With(zap.String("client.addr", p.Addr.String()))
		}

		resp, err := handler(logging.With(ctx, lg), req)

		lg.Debug("rpc",
			zap.Stringer("rpc.code", status.Code(err)),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
