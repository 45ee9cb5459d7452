//go:build linux

package iwldvm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const readStallRetries = 10

// DevSource reads notifications from a character device, pipe or capture
// file holding back to back receive buffers. It implements RxSource.
type DevSource struct {
	fd    int
	path  string
	rxBuf [lenFieldSize + frameSizeMask]byte
	// broken is set once a record was cut short. Record boundaries are
	// lost from then on.
	broken error
}

// OpenDevSource opens path for non-blocking reads.
func OpenDevSource(path string) (*DevSource, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DevSource{fd: fd, path: path}, nil
}

// Receive returns the next buffer, or nil when nothing is readable.
// After a truncated record the stream position is mid-record, so the source
// is unusable: every later call returns the same ErrMalformed error.
func (s *DevSource) Receive() ([]byte, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	pfd := unix.PollFd{
		Fd:     int32(s.fd),
		Events: unix.POLLIN,
	}
	for {
		n, err := unix.Poll([]unix.PollFd{pfd}, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", s.path, err)
		}
		if n == 0 {
			return nil, nil
		}
		break
	}

	got, err := s.readFull(s.rxBuf[:lenFieldSize])
	if err != nil || got == 0 {
		return nil, err
	}
	if got < lenFieldSize {
		s.broken = fmt.Errorf("%w: %w: truncated header in %s", ErrPkg, ErrMalformed, s.path)
		return nil, s.broken
	}
	size := int(binary.LittleEndian.Uint32(s.rxBuf[:lenFieldSize]) & frameSizeMask)
	got, err = s.readFull(s.rxBuf[lenFieldSize : lenFieldSize+size])
	if err != nil {
		return nil, err
	}
	if got < size {
		s.broken = fmt.Errorf("%w: %w: truncated frame in %s (%d of %d bytes)", ErrPkg, ErrMalformed, s.path, got, size)
		return nil, s.broken
	}

	result := make([]byte, lenFieldSize+size)
	copy(result, s.rxBuf[:lenFieldSize+size])
	return result, nil
}

// readFull reads until buf is full, end of file, or the descriptor would
// block with nothing read yet.
func (s *DevSource) readFull(buf []byte) (int, error) {
	total, stalls := 0, 0
	for total < len(buf) {
		n, err := unix.Read(s.fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if total == 0 {
				return 0, nil
			}
			// Mid-record: wait for the rest.
			stalls++
			if stalls > readStallRetries {
				return total, nil
			}
			pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
			if _, err := unix.Poll(pfd, 100); err != nil && err != unix.EINTR {
				return total, fmt.Errorf("poll %s: %w", s.path, err)
			}
			continue
		}
		if err != nil {
			return total, fmt.Errorf("read %s: %w", s.path, err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// Close releases the descriptor.
func (s *DevSource) Close() error {
	return unix.Close(s.fd)
}
