package upload

import (
	"context"
	"io"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// StorageGateway writes one object to the URL of a TransferSlot. A nil error
// means the storage endpoint answered with a 2xx status.
type StorageGateway interface {
	PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error
}

// MetadataRegistrar is the half of the backend contract the coordinator drives.
type MetadataRegistrar interface {
	RequestTransferSlot(ctx context.Context, req model.SlotRequest) (*model.TransferSlot, error)
	ConfirmTransfer(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error)
}
