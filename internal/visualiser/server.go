package visualiser

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var _ SignalServiceServer = (*Server)(nil)

// Server implements SignalService on top of a Publisher.
type Server struct {
	publisher *Publisher
}

func NewServer(p *Publisher) *Server {
	return &Server{publisher: p}
}

func (s *Server) Current(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(int32(s.publisher.Current().StopIndex)), nil
}

func (s *Server) Watch(_ *emptypb.Empty, stream SignalService_WatchServer) error {
	client, err := s.publisher.addClient()
	if err != nil {
		if errors.Is(err, errTooManyClients) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	if err := stream.Send(wrapperspb.Int32(int32(s.publisher.Current().StopIndex))); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.doneCh:
			return status.Error(codes.Unavailable, "server shutting down")
		case sig := <-client.signalCh:
			if err := stream.Send(wrapperspb.Int32(int32(sig.StopIndex))); err != nil {
				return err
			}
		}
	}
}
