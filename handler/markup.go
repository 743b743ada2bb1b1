package handler

import (
	"context"
	"fmt"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/markup"
	"github.com/arathald/mbox-to-pdf/model"
)

type markupHandler struct {
	sanitizer *markup.Sanitizer
}

func (h markupHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	text, err := decodeText(in.Data, in.Charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrCorrupted, err)
	}
	out, err := h.sanitizer.Sanitize([]byte(text), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrCorrupted, err)
	}
	return &model.Document{Markup: out}, nil
}
