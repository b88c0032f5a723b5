package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/util/atomicwrite"
)

// fileClient implementa Client sobre un archivo JSON plano.
// Es el análogo local a localStorage: un mapa clave→valor que sobrevive
// reinicios del proceso. TTLs se guardan como epoch seconds junto al valor.
type fileClient struct {
	path   string
	prefix string

	mu   sync.Mutex
	data map[string]fileEntry
}

type fileEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // epoch seconds, 0 = sin expiración
}

// NewFile crea un cliente de storage respaldado por archivo.
// Un archivo inexistente o corrupto arranca con un store vacío, no con error.
func NewFile(path, prefix string) (Client, error) {
	c := &fileClient{
		path:   path,
		prefix: prefix,
		data:   make(map[string]fileEntry),
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if jerr := json.Unmarshal(raw, &c.data); jerr != nil {
			logger.Named("storage.file").Warn("corrupt storage file, starting empty",
				logger.String("path", path), logger.Err(jerr))
			c.data = make(map[string]fileEntry)
		}
	}

	return c, nil
}

func (c *fileClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *fileClient) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[c.key(key)]
	if !ok {
		return "", ErrNotFound
	}
	if entry.ExpiresAt != 0 && time.Now().Unix() >= entry.ExpiresAt {
		delete(c.data, c.key(key))
		return "", ErrNotFound
	}
	return entry.Value, nil
}

func (c *fileClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	c.data[c.key(key)] = entry
	return c.flushLocked()
}

func (c *fileClient) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, c.key(key))
	return c.flushLocked()
}

func (c *fileClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// flushLocked serializa el mapa completo. Llamar con c.mu tomado.
func (c *fileClient) flushLocked() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	return atomicwrite.AtomicWriteFile(c.path, raw, 0600)
}
