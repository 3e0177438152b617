package common

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/models"
)

func TestNewPage(t *testing.T) {
	p := NewPage(2, 6, 13)
	assert.Equal(t, 2, p.Number)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext())
	assert.True(t, p.HasPrevious())

	p = NewPage(99, 6, 13)
	assert.Equal(t, 3, p.Number)
	assert.False(t, p.HasNext())

	p = NewPage(1, 6, 0)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, 1, p.TotalPages)
	assert.False(t, p.HasPrevious())
}

func TestPageParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for query, want := range map[string]int{"": 1, "?page=3": 3, "?page=abc": 1, "?page=-2": 1, "?page=0": 1} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/"+query, nil)
		assert.Equal(t, want, PageParam(c), query)
	}
}

func TestPaginate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Category{}))
	for i := 1; i <= 7; i++ {
		require.NoError(t, db.Create(&models.Category{Name: fmt.Sprintf("c%d", i), Slug: fmt.Sprintf("c%d", i)}).Error)
	}

	var cats []models.Category
	page, err := Paginate(db.Model(&models.Category{}), 2, 3, &cats, "id ASC")

	require.NoError(t, err)
	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, cats, 3)
	assert.Equal(t, "c4", cats[0].Name)

	cats = nil
	page, err = Paginate(db.Model(&models.Category{}), 10, 3, &cats, "id ASC")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Number)
	require.Len(t, cats, 1)
	assert.Equal(t, "c7", cats[0].Name)
}
