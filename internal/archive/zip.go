package archive

import (
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

func writeZip(ctx context.Context, out io.Writer, walker *treeWalker, format Format) error {
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, format.Level)
	})

	err := walker.walk(ctx, func(e entry) error {
		header, err := zip.FileInfoHeader(e.Info)
		if err != nil {
			return err
		}
		header.Name = e.Name
		if e.Info.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
			_, err := zw.CreateHeader(header)
			return err
		}

		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyFile(ctx, w, e.Path)
	})
	if err != nil {
		zw.Close()
		return err
	}

	return zw.Close()
}

func readZip(ctx context.Context, archivePath, destinationDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(destinationDir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if !file.Mode().IsRegular() {
			continue
		}

		src, err := file.Open()
		if err != nil {
			return err
		}
		err = writeFile(ctx, target, file.Mode(), file.Modified, src)
		src.Close()
		if err != nil {
			return err
		}
	}

	return nil
}
