package service

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
)

// maxBundleEntries bounds the listing of a configuration archive.
const maxBundleEntries = 10000

// BundleSummary lists the regular files of a configuration version archive.
type BundleSummary struct {
	Files          []string
	TerraformFiles int
	Bytes          int64
}

// InspectBundle lists a gzip-compressed tar archive in memory. Entry names that
// would escape the archive root are rejected.
func InspectBundle(data []byte) (BundleSummary, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return BundleSummary{}, fmt.Errorf("%w: configuration bundle: %v", domain.ErrMalformedInput, err)
	}
	defer func() { _ = zr.Close() }()

	var sum BundleSummary
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("%w: configuration bundle: %v", domain.ErrMalformedInput, err)
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return sum, fmt.Errorf("%w: configuration bundle entry %q escapes root", domain.ErrMalformedInput, hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if len(sum.Files) >= maxBundleEntries {
			return sum, fmt.Errorf("%w: configuration bundle has more than %d files", domain.ErrMalformedInput, maxBundleEntries)
		}
		sum.Files = append(sum.Files, name)
		sum.Bytes += hdr.Size
		if strings.HasSuffix(name, ".tf") || strings.HasSuffix(name, ".tf.json") {
			sum.TerraformFiles++
		}
	}
}
