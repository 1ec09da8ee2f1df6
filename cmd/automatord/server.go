package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	api "github.com/nixpig/trainworker/api/v1"
	"github.com/nixpig/trainworker/internal/auth"
	"github.com/nixpig/trainworker/internal/experiment"
	"github.com/nixpig/trainworker/internal/jobmanager"
	"github.com/nixpig/trainworker/internal/tlsconfig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// streamBufferSize is the buffer size for reading job logs.
	streamBufferSize = 4096
)

type server struct {
	api.UnimplementedAutomatorServiceServer

	manager    *jobmanager.Manager
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// newServer creates the gRPC server. When tlsCfg has certificates set, clients
// must present a certificate signed by the CA and are authorised by role.
func newServer(
	manager *jobmanager.Manager,
	logger *slog.Logger,
	tlsCfg *tlsconfig.Config,
) (*server, error) {
	s := &server{manager: manager, logger: logger}

	unary := []grpc.UnaryServerInterceptor{contextCheckUnaryInterceptor}
	stream := []grpc.StreamServerInterceptor{contextCheckStreamInterceptor}

	var opts []grpc.ServerOption

	if tlsCfg.Enabled() {
		tlsConfig, err := tlsconfig.SetupTLS(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("load TLS credentials: %w", err)
		}

		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		unary = append(unary, s.authUnaryInterceptor)
		stream = append(stream, s.authStreamInterceptor)
	} else {
		logger.Warn("no certificates configured, serving without TLS")
	}

	opts = append(
		opts,
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	s.grpcServer = grpc.NewServer(opts...)
	api.RegisterAutomatorServiceServer(s.grpcServer, s)

	return s, nil
}

func (s *server) serve(listener net.Listener) error {
	return s.grpcServer.Serve(listener)
}

func (s *server) shutdown() {
	s.grpcServer.GracefulStop()
}

func (s *server) Submit(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.ListValue, error) {
	r, err := api.SubmitRequestFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	mode := experiment.ReplaceFresh
	if r.ReplaceMode != "" {
		if mode, err = experiment.ParseReplaceMode(r.ReplaceMode); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	ids, err := s.manager.Submit(r.Path, mode, r.NoRun)
	if err != nil {
		return nil, s.mapError("submit batch", err)
	}

	s.logger.Info("batch submitted", "path", r.Path, "jobs", len(ids))

	return api.IDsToProto(ids), nil
}

func (s *server) Status(
	ctx context.Context,
	_ *emptypb.Empty,
) (*structpb.ListValue, error) {
	l, err := api.StatusToProto(workerStatuses(s.manager.Status()))
	if err != nil {
		return nil, s.mapError("status", err)
	}

	return l, nil
}

func (s *server) Kill(
	ctx context.Context,
	req *wrapperspb.Int64Value,
) (*emptypb.Empty, error) {
	if err := s.manager.Kill(int(req.GetValue())); err != nil {
		return nil, s.mapError("kill job", err)
	}

	return &emptypb.Empty{}, nil
}

func (s *server) KillAll(
	ctx context.Context,
	_ *emptypb.Empty,
) (*emptypb.Empty, error) {
	s.manager.KillAll()

	return &emptypb.Empty{}, nil
}

// Terminate kills every job. The server itself is stopped by whoever is
// waiting on the Manager's Terminated channel, once this call has returned.
func (s *server) Terminate(
	ctx context.Context,
	_ *emptypb.Empty,
) (*emptypb.Empty, error) {
	s.logger.Info("terminate requested")
	s.manager.Terminate()

	return &emptypb.Empty{}, nil
}

func (s *server) StreamLog(
	req *wrapperspb.Int64Value,
	stream grpc.ServerStreamingServer[wrapperspb.BytesValue],
) error {
	index := int(req.GetValue())

	logReader, err := s.manager.StreamLog(index)
	if err != nil {
		return s.mapError("stream log", err)
	}

	defer func() {
		if err := logReader.Close(); err != nil {
			s.logger.Warn("close log reader", "index", index, "err", err)
		}
	}()

	// Unblock a Read waiting on a job that's still running when the client
	// goes away.
	stop := context.AfterFunc(stream.Context(), func() {
		logReader.Close()
	})
	defer stop()

	buf := make([]byte, streamBufferSize)
	for {
		n, err := logReader.Read(buf)
		if n > 0 {
			if err := stream.Send(
				wrapperspb.Bytes(append([]byte(nil), buf[:n]...)),
			); err != nil {
				s.logger.Warn("stream log to client", "index", index, "err", err)
				return status.Error(codes.DataLoss, "failed to stream data")
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return s.mapError("read job log", err)
		}
	}

	if err := stream.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}

	return nil
}

// mapError translates jobmanager errors to gRPC errors.
func (s *server) mapError(logMsg string, err error) error {
	switch {
	case errors.As(err, new(*jobmanager.ConfigError)):
		s.logger.Warn(logMsg, "err", err)
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.As(err, new(*jobmanager.IndexError)):
		s.logger.Warn(logMsg, "err", err)
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, jobmanager.ErrTerminated):
		s.logger.Warn(logMsg, "err", err)
		return status.Error(codes.Unavailable, err.Error())

	default:
		s.logger.Error(logMsg, "err", err)
		return status.Error(codes.Internal, "internal server error")
	}
}

func (s *server) authorise(ctx context.Context, method string) error {
	cn, role, err := auth.Authorise(ctx, method)

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		s.logger.Warn("failed to get client identity", "err", err)
		return status.Error(codes.Unauthenticated, "not authenticated")

	case err != nil:
		s.logger.Warn(
			"failed to authorise client",
			"cn", cn,
			"role", role,
			"method", method,
			"err", err,
		)

		return status.Error(codes.PermissionDenied, "not authorised")
	}

	s.logger.Debug(
		"authorised client request",
		"cn", cn,
		"role", role,
		"method", method,
	)

	return nil
}

func (s *server) authUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if err := s.authorise(ctx, info.FullMethod); err != nil {
		return nil, err
	}

	return handler(ctx, req)
}

func (s *server) authStreamInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	if err := s.authorise(ss.Context(), info.FullMethod); err != nil {
		return err
	}

	return handler(srv, ss)
}

// contextCheckUnaryInterceptor rejects requests with a cancelled context.
func contextCheckUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	return handler(ctx, req)
}

// contextCheckStreamInterceptor rejects streams with a cancelled context.
func contextCheckStreamInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	if ss.Context().Err() != nil {
		return status.FromContextError(ss.Context().Err()).Err()
	}

	return handler(srv, ss)
}

func workerStatuses(infos []jobmanager.WorkerInfo) []api.WorkerStatus {
	statuses := make([]api.WorkerStatus, len(infos))

	for i, info := range infos {
		st := api.WorkerStatus{
			Index:        info.Index,
			ID:           info.ID,
			Path:         info.Experiment.Path,
			Description:  info.Experiment.Description,
			Status:       info.State.Status.String(),
			Iteration:    info.State.Iteration,
			MaxIteration: info.State.MaxIteration,
			Watch:        info.Experiment.Watch,
			Watched:      info.State.Watched,
			Pid:          info.State.Pid,
			ExitCode:     info.State.ExitCode,
			Interrupted:  info.State.Interrupted,
		}

		if info.State.Err != nil {
			st.Error = info.State.Err.Error()
		}

		statuses[i] = st
	}

	return statuses
}
