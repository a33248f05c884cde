package worker

import (
	"context"
	"net/rpc"
	"os"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/pkg/errors"
)

const serviceName = "MaskService"

// MaskService exposes a Generator over net/rpc. Output is copied into the
// reply and released before the reply is sent.
type MaskService struct {
	gen mask.Generator
}

func (s *MaskService) Generate(req *mask.Request, resp *mask.Response) error {
	out, err := s.gen.GenerateMask(context.Background(), req)
	if err != nil {
		return errors.New(mask.ErrorString(err))
	}
	defer out.Release()
	resp.Data = append([]byte(nil), out.Bytes()...)
	return nil
}

// Ping answers with the worker's pid once the library is loaded.
func (s *MaskService) Ping(_ int, pid *int) error {
	*pid = os.Getpid()
	return nil
}

func newServer(gen mask.Generator) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(serviceName, &MaskService{gen: gen}); err != nil {
		return nil, errors.Wrap(err, "server.Register")
	}
	return server, nil
}

// fromRPC restores sentinel errors flattened by MaskService.
func fromRPC(err error) error {
	if se, ok := err.(rpc.ServerError); ok {
		return mask.ErrorFromString(string(se))
	}
	return err
}
