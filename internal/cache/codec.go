package cache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const encodingZstd = "zstd"

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// entryEnvelope 是落盘格式，两种 driver 共用。
type entryEnvelope struct {
	Key      string              `msgpack:"key"`
	Status   int                 `msgpack:"status"`
	Header   map[string][]string `msgpack:"header"`
	URL      string              `msgpack:"url"`
	StoredAt int64               `msgpack:"stored_at"`
	Encoding string              `msgpack:"encoding,omitempty"`
	RawSize  int                 `msgpack:"raw_size"`
	Body     []byte              `msgpack:"body"`
}

// codec 负责 Response <-> 字节的转换，正文超过阈值时使用 zstd 压缩。
type codec struct {
	compressThreshold int64
}

func (c codec) encode(key Key, resp *Response) ([]byte, error) {
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	env := entryEnvelope{
		Key:      key.String(),
		Status:   resp.Status,
		Header:   resp.Header,
		URL:      resp.URL,
		StoredAt: storedAt.UnixNano(),
		RawSize:  len(resp.Body),
		Body:     resp.Body,
	}
	if c.compressThreshold > 0 && int64(len(resp.Body)) >= c.compressThreshold {
		env.Body = zstdEncoder.EncodeAll(resp.Body, make([]byte, 0, len(resp.Body)/2))
		env.Encoding = encodingZstd
	}
	return msgpack.Marshal(&env)
}

func (c codec) decode(data []byte) (*Response, error) {
	var env entryEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	body := env.Body
	switch env.Encoding {
	case "":
	case encodingZstd:
		decoded, err := zstdDecoder.DecodeAll(env.Body, make([]byte, 0, env.RawSize))
		if err != nil {
			return nil, fmt.Errorf("decompress cache entry: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("unknown cache entry encoding %q", env.Encoding)
	}
	if body == nil {
		body = []byte{}
	}
	return &Response{
		Status:   env.Status,
		Header:   http.Header(env.Header),
		Body:     body,
		URL:      env.URL,
		StoredAt: time.Unix(0, env.StoredAt).UTC(),
	}, nil
}
