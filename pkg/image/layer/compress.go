package layer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Descriptor reports the two digests and two sizes a materialized layer
// carries: the uncompressed tar's digest (diff_id, used to verify extracted
// content against the image config) and the compressed blob's digest (used
// as the layer's content-addressed file name).
type Descriptor struct {
	DiffID     digest.Digest
	DiffSize   int64
	BlobDigest digest.Digest
	BlobSize   int64
	BlobPath   string
}

// Materialize packs root into a gzip-compressed OCI layer blob under
// destDir, named by the compressed artifact's digest. The pipeline is a
// pure function of root's contents modulo the skip rules in shouldSkip:
// identical trees yield byte-identical blobs, because the tar walk order
// and every header field are deterministic.
func Materialize(root, destDir string) (Descriptor, error) {
	tmpTar, err := os.CreateTemp(destDir, "layer-*.tar")
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "creating scratch tar file")
	}
	tmpTarPath := tmpTar.Name()
	defer os.Remove(tmpTarPath)

	diffDigester := digest.Canonical.Digester()
	if err := WriteTar(root, io.MultiWriter(tmpTar, diffDigester.Hash())); err != nil {
		tmpTar.Close()
		return Descriptor{}, errors.Wrap(err, "writing layer tar")
	}
	diffSize, err := tmpTar.Seek(0, io.SeekCurrent)
	if err != nil {
		tmpTar.Close()
		return Descriptor{}, errors.Wrap(err, "measuring tar size")
	}
	if _, err := tmpTar.Seek(0, io.SeekStart); err != nil {
		tmpTar.Close()
		return Descriptor{}, errors.Wrap(err, "rewinding scratch tar")
	}

	tmpGz, err := os.CreateTemp(destDir, "layer-*.tar.gz")
	if err != nil {
		tmpTar.Close()
		return Descriptor{}, errors.Wrap(err, "creating scratch gzip file")
	}
	tmpGzPath := tmpGz.Name()

	blobDigester := digest.Canonical.Digester()
	gz, err := gzip.NewWriterLevel(io.MultiWriter(tmpGz, blobDigester.Hash()), gzip.BestCompression)
	if err != nil {
		tmpTar.Close()
		tmpGz.Close()
		os.Remove(tmpGzPath)
		return Descriptor{}, errors.Wrap(err, "constructing gzip writer")
	}
	if _, err := io.Copy(gz, tmpTar); err != nil {
		tmpTar.Close()
		tmpGz.Close()
		os.Remove(tmpGzPath)
		return Descriptor{}, errors.Wrap(err, "compressing layer tar")
	}
	tmpTar.Close()
	if err := gz.Close(); err != nil {
		tmpGz.Close()
		os.Remove(tmpGzPath)
		return Descriptor{}, errors.Wrap(err, "flushing gzip writer")
	}
	blobSize, err := tmpGz.Seek(0, io.SeekCurrent)
	if err != nil {
		tmpGz.Close()
		os.Remove(tmpGzPath)
		return Descriptor{}, errors.Wrap(err, "measuring compressed blob size")
	}
	tmpGz.Close()

	blobDigest := blobDigester.Digest()
	finalPath := filepath.Join(destDir, blobDigest.Encoded())
	if err := os.Rename(tmpGzPath, finalPath); err != nil {
		os.Remove(tmpGzPath)
		return Descriptor{}, errors.Wrap(err, "renaming compressed blob to its digest")
	}

	return Descriptor{
		DiffID:     diffDigester.Digest(),
		DiffSize:   diffSize,
		BlobDigest: blobDigest,
		BlobSize:   blobSize,
		BlobPath:   finalPath,
	}, nil
}
