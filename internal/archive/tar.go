package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func compressWriter(out io.Writer, format Format) (io.WriteCloser, error) {
	switch format.Compression {
	case CompressionNone:
		return nopWriteCloser{out}, nil
	case CompressionZstd:
		return zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(format.Level)))
	default:
		return gzip.NewWriterLevel(out, format.Level)
	}
}

func decompressReader(in io.Reader, format Format) (io.ReadCloser, error) {
	switch format.Compression {
	case CompressionNone:
		return io.NopCloser(in), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(in)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	default:
		return gzip.NewReader(in)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func writeTar(ctx context.Context, out io.Writer, walker *treeWalker, format Format) error {
	compressed, err := compressWriter(out, format)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(compressed)

	err = walker.walk(ctx, func(e entry) error {
		header, err := tar.FileInfoHeader(e.Info, "")
		if err != nil {
			return err
		}
		header.Name = e.Name
		if e.Info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if e.Info.IsDir() {
			return nil
		}
		return copyFile(ctx, tw, e.Path)
	})
	if err != nil {
		tw.Close()
		compressed.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		compressed.Close()
		return err
	}
	return compressed.Close()
}

func readTar(ctx context.Context, archivePath, destinationDir string, format Format) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stream, err := decompressReader(file, format)
	if err != nil {
		return err
	}
	defer stream.Close()

	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(destinationDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(ctx, target, header.FileInfo().Mode(), header.ModTime, tr); err != nil {
				return err
			}
		default:
			// links and special files are never written by Create
		}
	}
}
