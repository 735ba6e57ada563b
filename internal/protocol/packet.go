package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/udisondev/battlego/internal/crypto"
)

// Magic identifies a frame as belonging to this protocol ("BSHP").
const Magic = 0x42534850

// HeaderSize is the fixed wire header length in bytes:
// magic(4) + seq(4) + type(1) + data_len(4) + checksum(4).
const HeaderSize = 17

// checksummedPrefix is the header portion covered by the checksum
// (everything before the checksum field itself).
const checksummedPrefix = 13

// MaxDataLen bounds data_len before the body is read, so a corrupt header
// cannot make the reader allocate or wait for gigabytes.
const MaxDataLen = 1 << 20

// PacketType encodes the message kind carried by a frame.
type PacketType byte

const (
	TypeUsername    PacketType = 1
	TypeGameStart   PacketType = 2
	TypeMove        PacketType = 3
	TypeBoardUpdate PacketType = 4
	TypeGameEnd     PacketType = 5
	TypeError       PacketType = 6
	TypeDisconnect  PacketType = 7
	TypeReconnect   PacketType = 8
	TypeAck         PacketType = 9
	TypeHeartbeat   PacketType = 10
	TypeChat        PacketType = 11
)

// String returns a human-readable packet type name for logs.
func (t PacketType) String() string {
	switch t {
	case TypeUsername:
		return "USERNAME"
	case TypeGameStart:
		return "GAME_START"
	case TypeMove:
		return "MOVE"
	case TypeBoardUpdate:
		return "BOARD_UPDATE"
	case TypeGameEnd:
		return "GAME_END"
	case TypeError:
		return "ERROR"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeReconnect:
		return "RECONNECT"
	case TypeAck:
		return "ACK"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeChat:
		return "CHAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// ErrCorrupt tags every decode rejection: short header, magic mismatch,
// length mismatch, checksum failure, or a decryption fault. Callers branch
// with errors.Is and never see a panic across this boundary.
var ErrCorrupt = errors.New("corrupt packet")

// Header is the decoded fixed-size frame header.
type Header struct {
	Magic    uint32
	Seq      uint32
	Type     PacketType
	DataLen  uint32
	Checksum uint32
}

// Codec assembles and parses wire frames. It owns the payload cipher and the
// per-process sequence counter. Safe for concurrent use.
type Codec struct {
	cipher *crypto.PayloadCipher
	seq    atomic.Uint32
}

// NewCodec creates a codec keyed with the 32-byte pre-shared key.
func NewCodec(key []byte) (*Codec, error) {
	pc, err := crypto.NewPayloadCipher(key)
	if err != nil {
		return nil, err
	}
	return &Codec{cipher: pc}, nil
}

// NextSeq draws the next sequence number, monotonic modulo 2^32.
func (c *Codec) NextSeq() uint32 {
	return c.seq.Add(1) - 1
}

// Encode builds one complete frame: draws the next sequence number and a
// fresh IV, encrypts the plaintext, and stamps the CRC32 checksum over the
// first 13 header bytes, the IV, and the ciphertext.
func (c *Codec) Encode(ptype PacketType, plaintext []byte) ([]byte, error) {
	iv, err := c.cipher.NewIV()
	if err != nil {
		return nil, fmt.Errorf("encoding packet: %w", err)
	}
	ciphertext, err := c.cipher.Encrypt(iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encoding packet: %w", err)
	}

	dataLen := uint32(crypto.IVSize + len(ciphertext))
	frame := make([]byte, HeaderSize+int(dataLen))
	binary.BigEndian.PutUint32(frame[0:4], Magic)
	binary.BigEndian.PutUint32(frame[4:8], c.NextSeq())
	frame[8] = byte(ptype)
	binary.BigEndian.PutUint32(frame[9:13], dataLen)
	copy(frame[HeaderSize:], iv)
	copy(frame[HeaderSize+crypto.IVSize:], ciphertext)

	sum := crc32.ChecksumIEEE(frame[:checksummedPrefix])
	sum = crc32.Update(sum, crc32.IEEETable, frame[HeaderSize:])
	binary.BigEndian.PutUint32(frame[13:17], sum)

	return frame, nil
}

// ParseHeader decodes the fixed header without touching the body. It rejects
// frames that cannot be ours before any payload bytes are read: short
// buffers, wrong magic, and absurd or sub-IV data lengths.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrCorrupt, len(buf))
	}
	h := Header{
		Magic:    binary.BigEndian.Uint32(buf[0:4]),
		Seq:      binary.BigEndian.Uint32(buf[4:8]),
		Type:     PacketType(buf[8]),
		DataLen:  binary.BigEndian.Uint32(buf[9:13]),
		Checksum: binary.BigEndian.Uint32(buf[13:17]),
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: magic 0x%08x", ErrCorrupt, h.Magic)
	}
	if h.DataLen < crypto.IVSize {
		return h, fmt.Errorf("%w: data length %d below iv size", ErrCorrupt, h.DataLen)
	}
	if h.DataLen > MaxDataLen {
		return h, fmt.Errorf("%w: data length %d exceeds limit", ErrCorrupt, h.DataLen)
	}
	return h, nil
}

// Decode parses and verifies one complete frame and returns the decrypted
// payload. Any violation is reported as an error wrapping ErrCorrupt.
func (c *Codec) Decode(frame []byte) (Header, []byte, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return h, nil, err
	}

	body := frame[HeaderSize:]
	if uint32(len(body)) != h.DataLen {
		return h, nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(body), h.DataLen)
	}

	sum := crc32.ChecksumIEEE(frame[:checksummedPrefix])
	sum = crc32.Update(sum, crc32.IEEETable, body)
	if sum != h.Checksum {
		return h, nil, fmt.Errorf("%w: checksum 0x%08x, expected 0x%08x", ErrCorrupt, sum, h.Checksum)
	}

	iv := body[:crypto.IVSize]
	plaintext, err := c.cipher.Decrypt(iv, body[crypto.IVSize:])
	if err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return h, plaintext, nil
}
