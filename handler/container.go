package handler

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/arathald/mbox-to-pdf/failure"
)

var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// encryptedPackage is the stream name, in UTF-16LE, under which an encrypted
// OOXML document is stored inside its compound file wrapper.
var encryptedPackage = utf16le("EncryptedPackage")

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

// openPackage validates an OOXML payload and returns its zip directory.
// required names the part that identifies the expected package kind.
func openPackage(data []byte, required string, maxUnpacked int64) (*zip.Reader, error) {
	if bytes.HasPrefix(data, cfbSignature) {
		if bytes.Contains(data, encryptedPackage) {
			return nil, fmt.Errorf("%w: encrypted package", failure.ErrPasswordProtected)
		}
		return nil, fmt.Errorf("%w: legacy compound binary format", failure.ErrUnsupportedVariant)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrCorrupted, err)
	}

	var (
		total   uint64
		found   bool
		ooxml   bool
		odfType string
	)
	for _, f := range zr.File {
		total += f.UncompressedSize64
		switch f.Name {
		case required:
			found = true
		case "[Content_Types].xml":
			ooxml = true
		case "mimetype":
			odfType = readSmall(f)
		}
	}
	if maxUnpacked > 0 && total > uint64(maxUnpacked) {
		return nil, fmt.Errorf("%w: %d unpacked bytes exceeds limit of %d", failure.ErrOversize, total, maxUnpacked)
	}
	if found {
		return zr, nil
	}
	switch {
	case strings.HasPrefix(odfType, "application/vnd.oasis.opendocument"):
		return nil, fmt.Errorf("%w: OpenDocument package %s", failure.ErrUnsupportedVariant, odfType)
	case ooxml:
		return nil, fmt.Errorf("%w: package has no %s", failure.ErrUnsupportedFormat, required)
	}
	return nil, fmt.Errorf("%w: archive has no %s", failure.ErrCorrupted, required)
}

func readSmall(f *zip.File) string {
	if f.UncompressedSize64 > 256 {
		return ""
	}
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
