package tokenstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	recordFormatVersionCurrent = 2
	// v1 records carried no IssuedAt.
	recordFormatVersionV1 = 1
)

const (
	flagHasUser byte = 1 << iota
)

// Encode serializes rec into the current binary record format.
func Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatVersionCurrent)

	if err := writeString(&buf, "access token", rec.Tokens.AccessToken); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "refresh token", rec.Tokens.RefreshToken); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.Tokens.IssuedAt); err != nil {
		return nil, err
	}

	var flags byte
	if rec.User != nil {
		flags |= flagHasUser
	}
	buf.WriteByte(flags)

	if rec.User == nil {
		return buf.Bytes(), nil
	}

	u := rec.User
	if err := binary.Write(&buf, binary.BigEndian, u.ID); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name, value string
	}{
		{"username", u.Username},
		{"email", u.Email},
		{"first name", u.FirstName},
		{"last name", u.LastName},
		{"department", u.Department},
		{"job title", u.JobTitle},
		{"profile picture url", u.ProfilePictureURL},
	} {
		if err := writeString(&buf, f.name, f.value); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. Every failure wraps ErrCorrupt.
func Decode(data []byte) (*Record, error) {
	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

func decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent && version != recordFormatVersionV1 {
		return nil, errors.New("invalid record version")
	}

	rec := &Record{}
	if rec.Tokens.AccessToken, err = readString(reader); err != nil {
		return nil, err
	}
	if rec.Tokens.RefreshToken, err = readString(reader); err != nil {
		return nil, err
	}
	if version == recordFormatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &rec.Tokens.IssuedAt); err != nil {
			return nil, err
		}
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^flagHasUser != 0 {
		return nil, errors.New("unknown record flags")
	}

	if flags&flagHasUser != 0 {
		u := &UserProfile{}
		if err := binary.Read(reader, binary.BigEndian, &u.ID); err != nil {
			return nil, err
		}
		for _, dst := range []*string{
			&u.Username,
			&u.Email,
			&u.FirstName,
			&u.LastName,
			&u.Department,
			&u.JobTitle,
			&u.ProfilePictureURL,
		} {
			if *dst, err = readString(reader); err != nil {
				return nil, err
			}
		}
		rec.User = u
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes")
	}

	return rec, nil
}

func writeString(buf *bytes.Buffer, field, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%s too long", field)
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
