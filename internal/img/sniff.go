package img

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// sniff reads the first 512 bytes and the last 512 bytes of the file for
// signature probing.
func sniff(path string) (head, tail []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	head = make([]byte, 512)
	n, _ := f.ReadAt(head, 0)
	head = head[:n]

	if st.Size() >= 512 {
		tail = make([]byte, 512)
		n, _ = f.ReadAt(tail, st.Size()-512)
		tail = tail[:n]
	}
	return head, tail, nil
}

func isEwfSignature(head []byte) bool {
	return len(head) >= 8 && bytes.Equal(head[:8], types.EwfSignature[:])
}

// isAffSignature matches the AFF container magic "AFF10\r\n".
func isAffSignature(head []byte) bool {
	return len(head) >= 5 && bytes.Equal(head[:5], []byte("AFF10"))
}

func isVmdkSignature(head []byte) bool {
	return len(head) >= 4 && binary.LittleEndian.Uint32(head[:4]) == types.VmdkMagic
}

func isVhdSignature(tail []byte) bool {
	return len(tail) >= 8 && bytes.Equal(tail[:8], types.VhdCookie[:])
}
