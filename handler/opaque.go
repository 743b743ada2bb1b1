package handler

import (
	"bytes"
	"context"

	"github.com/arathald/mbox-to-pdf/classify"
	"github.com/arathald/mbox-to-pdf/model"
)

const encryptedPDFAdvisory = "This PDF is encrypted; its contents are not reproduced."

// opaqueHandler never inspects content beyond a PDF encryption check.
type opaqueHandler struct{}

func (opaqueHandler) Render(_ context.Context, in Input) (model.Fragment, error) {
	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	ref := &model.Reference{
		Filename:  in.Filename,
		MediaType: mediaType,
		Size:      int64(len(in.Data)),
	}
	if classify.IsPDF(in.Data) && bytes.Contains(in.Data, []byte("/Encrypt")) {
		ref.Advisory = append(ref.Advisory, encryptedPDFAdvisory)
	}
	return ref, nil
}
