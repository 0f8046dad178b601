package response

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })

	tests := map[string]struct {
		header string
		keep   bool
	}{
		"client id kept":      {header: "trace-01.a_b", keep: true},
		"missing generated":   {header: ""},
		"newline replaced":    {header: "x\nInjected: yes"},
		"oversized replaced":  {header: strings.Repeat("a", 65)},
		"punctuation refused": {header: "id;drop"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			assert.Equal(t, got, w.Body.String())
			if tt.keep {
				assert.Equal(t, tt.header, got)
				return
			}
			assert.NotEqual(t, tt.header, got)
			assert.Len(t, got, 36)
		})
	}
}
