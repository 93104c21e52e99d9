package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix  = ".entry"
	rootSegment  = "__root__"
	queryMarker  = "__qs"
	escapePrefix = "~"
	trashPrefix  = ".trash-"
	tempPrefix   = ".cache-"
	maxMetaBytes = 1 << 20
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 保证同一条目的读写互斥，所有具名缓存共享锁表。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是 .entry 文件首行的 JSON 元数据。
type entryMeta struct {
	Key      Key          `json:"key"`
	Status   int          `json:"status"`
	Header   http.Header  `json:"header,omitempty"`
	Type     ResponseType `json:"type"`
	URL      string       `json:"url,omitempty"`
	StoredAt time.Time    `json:"stored_at"`
	Size     int          `json:"size"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Delete 先把目录改名为隐藏的 trash 目录再递归删除，改名之后 Keys/Open 立即看不到旧缓存。
func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}

	trash, err := os.MkdirTemp(s.basePath, trashPrefix+"*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, "cache")
	if err := os.Rename(dir, target); err != nil {
		os.RemoveAll(trash)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("remove cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Match(ctx context.Context, key Key) (*Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c, err := s.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		resp, err := c.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *fileStorage) cacheDir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid cache name %q", name)
	}
	return filepath.Join(s.basePath, name), nil
}

func (s *fileStorage) lockEntry(lockKey string) func() {
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// fileCache 是 fileStorage 下的单个具名缓存目录。
type fileCache struct {
	storage *fileStorage
	name    string
	dir     string
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := c.entryPath(key)
	if err != nil {
		return nil, err
	}

	unlock := c.storage.lockEntry(c.lockKey(key))
	defer unlock()

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	reader := bufio.NewReader(f)
	meta, err := readMeta(reader)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	header := meta.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   meta.Status,
		Header:   header,
		Body:     body,
		Type:     meta.Type,
		URL:      meta.URL,
		StoredAt: meta.StoredAt,
	}, nil
}

func (c *fileCache) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	filePath, err := c.entryPath(key)
	if err != nil {
		return err
	}

	unlock := c.storage.lockEntry(c.lockKey(key))
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	meta := entryMeta{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		Type:     resp.Type,
		URL:      resp.URL,
		StoredAt: storedAt,
		Size:     len(resp.Body),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	payload := io.MultiReader(bytes.NewReader(encoded), strings.NewReader("\n"), bytes.NewReader(resp.Body))
	_, err = copyWithContext(ctx, tempFile, payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (c *fileCache) Remove(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := c.entryPath(key)
	if err != nil {
		return err
	}

	unlock := c.storage.lockEntry(c.lockKey(key))
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *fileCache) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
			return nil
		}
		meta, err := readMetaFile(p)
		if err != nil {
			// 条目可能在遍历过程中被替换或删除，跳过即可。
			return nil
		}
		keys = append(keys, meta.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (c *fileCache) lockKey(key Key) string {
	return c.name + "::" + key.String()
}

// entryPath 将 Key 映射为 <cache>/<METHOD>/<path>[/__qs/<sha1>].entry。
func (c *fileCache) entryPath(key Key) (string, error) {
	method := key.Method
	if method == "" || strings.ContainsAny(method, `/\.`) {
		return "", fmt.Errorf("invalid method %q", method)
	}

	clean := cleanPath(key.Path)
	var segments []string
	for _, seg := range strings.Split(strings.Trim(clean, "/"), "/") {
		if seg != "" {
			segments = append(segments, escapeSegment(seg))
		}
	}
	if strings.HasSuffix(clean, "/") {
		segments = append(segments, rootSegment)
	}
	if key.RawQuery != "" {
		sum := sha1.Sum([]byte(key.RawQuery))
		segments = append(segments, queryMarker, hex.EncodeToString(sum[:]))
	}
	rel := path.Join(segments...)

	base := filepath.Join(c.dir, method)
	filePath := filepath.Join(base, filepath.FromSlash(rel)) + entrySuffix
	if !strings.HasPrefix(filePath, base+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

// escapeSegment 把与内部命名冲突的路径段（保留名、~ 开头、以 .entry 结尾）
// 编码为 ~<hex>，其余原样保留；编码结果不会再以 .entry 结尾，目录与条目文件不会重名。
func escapeSegment(seg string) string {
	if seg == rootSegment || seg == queryMarker ||
		strings.HasPrefix(seg, escapePrefix) || strings.HasSuffix(seg, entrySuffix) {
		return escapePrefix + hex.EncodeToString([]byte(seg))
	}
	return seg
}

func readMetaFile(p string) (entryMeta, error) {
	f, err := os.Open(p)
	if err != nil {
		return entryMeta{}, err
	}
	defer f.Close()
	return readMeta(bufio.NewReader(f))
}

func readMeta(reader *bufio.Reader) (entryMeta, error) {
	line, err := reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return readLongMeta(reader, line)
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, err
	}
	return meta, nil
}

func readLongMeta(reader *bufio.Reader, prefix []byte) (entryMeta, error) {
	buf := append([]byte(nil), prefix...)
	for len(buf) < maxMetaBytes {
		chunk, err := reader.ReadSlice('\n')
		buf = append(buf, chunk...)
		if err == nil {
			var meta entryMeta
			if err := json.Unmarshal(buf, &meta); err != nil {
				return entryMeta{}, err
			}
			return meta, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return entryMeta{}, err
		}
	}
	return entryMeta{}, errors.New("cache entry metadata too large")
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
