package pipeline

import (
	"context"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/gofs"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// WriteResult writes the raster to output and, if worldFile is set, the
// world file next to it. Each file is written under a temporary name and
// renamed into place, so a reader never sees half a file.
func WriteResult(fs gofs.Fs, output string, result *Result, worldFile bool) errorsx.Error {
	if err := writeAtomic(fs, output, result.ImageData); err != nil {
		return err
	}

	if worldFile {
		if err := writeAtomic(fs, tile.WorldFilePath(output, result.Format), result.WorldFileData); err != nil {
			return err
		}
	}

	return nil
}

// RenderToFile renders and writes the result. Nothing is written when the
// render fails.
func (p *Pipeline) RenderToFile(ctx context.Context, fs gofs.Fs, req Request, output string, worldFile bool) (*Result, errorsx.Error) {
	result, err := p.Render(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := WriteResult(fs, output, result, worldFile); err != nil {
		return nil, err
	}

	p.logger.Info("wrote %s", output)
	if worldFile {
		p.logger.Info("wrote %s", tile.WorldFilePath(output, result.Format))
	}

	return result, nil
}

func writeAtomic(fs gofs.Fs, path string, data []byte) errorsx.Error {
	partial := path + ".partial"
	if err := fs.WriteFile(partial, data, 0644); err != nil {
		return errorsx.Wrap(err, "path", partial)
	}
	if err := fs.Rename(partial, path); err != nil {
		fs.Remove(partial)
		return errorsx.Wrap(err, "path", path)
	}
	return nil
}
