package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Member is one image file read from a dataset archive.
type Member struct {
	Name string
	Data []byte
}

// ErrMemberTooLarge indicates an archive entry above the size limit.
var ErrMemberTooLarge = errors.New("dataset: archive member exceeds size limit")

const maxMemberSize = 32 << 20

// StreamArchive streams the image members of the tar archive at archivePath.
func StreamArchive(ctx context.Context, archivePath string) (<-chan Member, <-chan error) {
	out := make(chan Member)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(archivePath)
		if err != nil {
			errCh <- errors.Wrap(err, "open archive")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- errors.Wrap(err, "read tar")
				return
			}
			if hdr.Typeflag != tar.TypeReg || !imageRegexp.MatchString(hdr.Name) {
				continue
			}
			if hdr.Size > maxMemberSize {
				errCh <- errors.Wrapf(ErrMemberTooLarge, "%s (%d bytes)", hdr.Name, hdr.Size)
				return
			}
			data, err := io.ReadAll(tr)
			if err != nil {
				errCh <- errors.Wrapf(err, "read member %s", hdr.Name)
				return
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Member{Name: path.Clean(strings.TrimPrefix(hdr.Name, "./")), Data: data}:
			}
		}
	}()

	return out, errCh
}

// DiscoverArchive reads every image of a tar archive laid out like a dataset
// directory. A single top-level folder wrapping all class folders is skipped;
// images not sitting directly inside a class folder are ignored.
func DiscoverArchive(ctx context.Context, archivePath string) ([]Record, error) {
	members, errCh := StreamArchive(ctx, archivePath)
	var collected []Member
	for m := range members {
		collected = append(collected, m)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	strip := sharedTopLevel(collected)
	var records []Record
	for _, m := range collected {
		parts := strings.Split(m.Name, "/")
		if strip {
			parts = parts[1:]
		}
		if len(parts) != 2 {
			continue
		}
		records = append(records, Record{
			Path:  archivePath + ":" + m.Name,
			Class: parts[0],
			Data:  m.Data,
		})
	}
	if len(records) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "in archive %s", archivePath)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	assignLabels(records)
	return records, nil
}

// sharedTopLevel reports whether every member sits at least three levels deep
// under one common first folder.
func sharedTopLevel(members []Member) bool {
	if len(members) == 0 {
		return false
	}
	var top string
	for i, m := range members {
		parts := strings.Split(m.Name, "/")
		if len(parts) < 3 {
			return false
		}
		if i == 0 {
			top = parts[0]
		} else if parts[0] != top {
			return false
		}
	}
	return true
}
