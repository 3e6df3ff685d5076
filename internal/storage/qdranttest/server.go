// Package qdranttest 提供内存版 Qdrant REST 服务，用于测试。
// 只实现本项目用到的接口，检索使用真实的余弦相似度。
package qdranttest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

type point struct {
	ID      string
	Vector  []float64
	Payload map[string]interface{}
}

type collection struct {
	Size     int
	Distance string
	Points   map[string]point
	Order    []string
}

// Server 内存 Qdrant
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection

	// 统计各接口调用次数，key 形如 "PUT /collections/{name}"
	Calls map[string]int
	// ReverseSearch 为 true 时检索结果按分数升序返回，模拟无序的服务端
	ReverseSearch bool
	// FailUpsert 为 true 时 upsert 返回 500
	FailUpsert bool
}

// NewServer 启动服务，测试结束需调用 Close
func NewServer() *Server {
	s := &Server{
		collections: make(map[string]*collection),
		Calls:       make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// CreateCollection 直接创建集合，绕过 HTTP
func (s *Server) CreateCollection(name string, size int, distance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &collection{Size: size, Distance: distance, Points: map[string]point{}}
}

// CollectionCount 集合数量
func (s *Server) CollectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections)
}

// PointCount 集合中的点数，集合不存在返回 -1
func (s *Server) PointCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return -1
	}
	return len(c.Points)
}

// CallCount 返回某个接口的调用次数
func (s *Server) CallCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[key]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] != "collections" {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.Calls["GET /collections"]++
		list := make([]map[string]string, 0, len(s.collections))
		names := make([]string, 0, len(s.collections))
		for name := range s.collections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			list = append(list, map[string]string{"name": name})
		}
		writeResult(w, map[string]interface{}{"collections": list})

	case len(parts) == 2 && r.Method == http.MethodPut:
		s.Calls["PUT /collections/{name}"]++
		s.createCollection(w, r, parts[1])

	case len(parts) == 2 && r.Method == http.MethodGet:
		s.Calls["GET /collections/{name}"]++
		c, ok := s.collections[parts[1]]
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Collection `%s` doesn't exist!", parts[1]))
			return
		}
		writeResult(w, map[string]interface{}{
			"status":       "green",
			"points_count": len(c.Points),
			"config": map[string]interface{}{
				"params": map[string]interface{}{
					"vectors": map[string]interface{}{"size": c.Size, "distance": c.Distance},
				},
			},
		})

	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
		s.Calls["PUT /collections/{name}/points"]++
		s.upsert(w, r, parts[1])

	case len(parts) == 4 && parts[3] == "search" && r.Method == http.MethodPost:
		s.Calls["POST /collections/{name}/points/search"]++
		s.search(w, r, parts[1])

	case len(parts) == 4 && parts[3] == "count" && r.Method == http.MethodPost:
		c, ok := s.collections[parts[1]]
		if !ok {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		writeResult(w, map[string]interface{}{"count": len(c.Points)})

	default:
		writeError(w, http.StatusNotFound, "unsupported")
	}
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := s.collections[name]; ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("Collection `%s` already exists!", name))
		return
	}
	var req struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Vectors.Size <= 0 {
		writeError(w, http.StatusBadRequest, "bad vectors config")
		return
	}
	s.collections[name] = &collection{Size: req.Vectors.Size, Distance: req.Vectors.Distance, Points: map[string]point{}}
	writeResult(w, true)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request, name string) {
	if s.FailUpsert {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	c, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var req struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, p := range req.Points {
		if len(p.Vector) != c.Size {
			writeError(w, http.StatusBadRequest, "wrong vector dimension")
			return
		}
	}
	for _, p := range req.Points {
		if _, exists := c.Points[p.ID]; !exists {
			c.Order = append(c.Order, p.ID)
		}
		c.Points[p.ID] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	writeResult(w, map[string]interface{}{"status": "completed"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, name string) {
	c, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var req struct {
		Vector []float64 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Vector) != c.Size {
		writeError(w, http.StatusBadRequest, "wrong vector dimension")
		return
	}

	type hit struct {
		ID      string                 `json:"id"`
		Score   float64                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	}
	hits := make([]hit, 0, len(c.Points))
	for _, id := range c.Order {
		p := c.Points[id]
		hits = append(hits, hit{ID: p.ID, Score: Cosine(req.Vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	if s.ReverseSearch {
		for i, j := 0, len(hits)-1; i < j; i, j = i+1, j-1 {
			hits[i], hits[j] = hits[j], hits[i]
		}
	}
	writeResult(w, hits)
}

// Cosine 余弦相似度，零向量返回 0
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result, "status": "ok", "time": 0.001})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": map[string]string{"error": msg}})
}
