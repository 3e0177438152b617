package profiles

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/common"
	"quill/database"
	"quill/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), common.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.RunMigrations(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	user := &models.User{
		Email:                  username + "@example.com",
		Username:               username,
		FirstName:              username,
		PasswordHash:           "hashedpassword",
		Role:                   role,
		EmailVerificationToken: username + "-token",
		IsActive:               true,
		IsEmailVerified:        true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestPost(t *testing.T, db *gorm.DB, authorID int, slug string, status models.PostStatus, views int) *models.Post {
	post := &models.Post{Title: slug, Slug: slug, AuthorID: authorID, Body: "body", Status: status, ViewsCount: views}
	require.NoError(t, db.Create(post).Error)
	return post
}

func rate(t *testing.T, db *gorm.DB, userID, postID, score int) {
	require.NoError(t, db.Create(&models.Rating{UserID: userID, PostID: postID, Score: score}).Error)
}

type memoryStore struct {
	keys []string
}

func (m *memoryStore) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.keys = append(m.keys, key)
	return "https://media.test/" + key, nil
}

func pngHeader(t *testing.T) *multipart.FileHeader {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("profile_picture", "me.png")
	require.NoError(t, err)
	_, err = part.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["profile_picture"][0]
}

func TestGetOrCreateProfile_IsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	user := createTestUser(t, db, "ana", models.RoleAuthor)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCreateProfile(ctx, user.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	first, err := s.GetOrCreateProfile(ctx, user.ID)
	require.NoError(t, err)
	second, err := s.GetOrCreateProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	db.Model(&models.AuthorProfile{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestToggleFollow(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	ana := createTestUser(t, db, "ana", models.RoleAuthor)
	bob := createTestUser(t, db, "bob", models.RoleReader)
	carl := createTestUser(t, db, "carl", models.RoleReader)
	ctx := context.Background()

	t.Run("self follow is rejected", func(t *testing.T) {
		_, _, err := s.ToggleFollow(ctx, ana, ana)
		assert.ErrorIs(t, err, common.ErrValidation)
		assert.Equal(t, "You cannot follow yourself.", common.PublicMessage(err))
	})

	t.Run("toggling twice restores state", func(t *testing.T) {
		on, count, err := s.ToggleFollow(ctx, bob, ana)
		require.NoError(t, err)
		assert.True(t, on)
		assert.Equal(t, int64(1), count)

		on, count, err = s.ToggleFollow(ctx, carl, ana)
		require.NoError(t, err)
		assert.True(t, on)
		assert.Equal(t, int64(2), count)

		following, err := s.IsFollowing(ctx, bob.ID, ana.ID)
		require.NoError(t, err)
		assert.True(t, following)

		on, count, err = s.ToggleFollow(ctx, bob, ana)
		require.NoError(t, err)
		assert.False(t, on)
		assert.Equal(t, int64(1), count)

		following, err = s.IsFollowing(ctx, bob.ID, ana.ID)
		require.NoError(t, err)
		assert.False(t, following)
	})
}

func TestFollowersAndFollowing(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	ana := createTestUser(t, db, "ana", models.RoleAuthor)
	bob := createTestUser(t, db, "bob", models.RoleReader)
	carl := createTestUser(t, db, "carl", models.RoleReader)
	ctx := context.Background()

	_, _, err := s.ToggleFollow(ctx, bob, ana)
	require.NoError(t, err)
	_, _, err = s.ToggleFollow(ctx, carl, ana)
	require.NoError(t, err)
	_, _, err = s.ToggleFollow(ctx, bob, carl)
	require.NoError(t, err)

	followers, page, err := s.Followers(ctx, ana.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, followers, 2)
	assert.Equal(t, "carl", followers[0].Follower.Username)
	assert.Equal(t, "bob", followers[1].Follower.Username)

	following, page, err := s.Following(ctx, bob.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, following, 2)
	assert.Equal(t, "carl", following[0].Following.Username)
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	ana := createTestUser(t, db, "ana", models.RoleAuthor)
	bob := createTestUser(t, db, "bob", models.RoleReader)
	carl := createTestUser(t, db, "carl", models.RoleReader)
	ctx := context.Background()

	t.Run("no activity", func(t *testing.T) {
		st, err := s.Stats(ctx, ana.ID)
		require.NoError(t, err)
		assert.Equal(t, Stats{}, st)
	})

	p1 := createTestPost(t, db, ana.ID, "one", models.StatusPublished, 10)
	p2 := createTestPost(t, db, ana.ID, "two", models.StatusPublished, 5)
	draft := createTestPost(t, db, ana.ID, "draft", models.StatusDraft, 100)
	rate(t, db, bob.ID, p1.ID, 6)
	rate(t, db, carl.ID, p1.ID, 4)
	rate(t, db, bob.ID, p2.ID, 2)
	rate(t, db, carl.ID, draft.ID, 0)

	_, _, err := s.ToggleFollow(ctx, bob, ana)
	require.NoError(t, err)
	_, _, err = s.ToggleFollow(ctx, ana, carl)
	require.NoError(t, err)

	st, err := s.Stats(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.PublishedCount)
	assert.Equal(t, int64(15), st.TotalViews)
	assert.InDelta(t, 4.0, st.AverageRating, 0.001)
	assert.Equal(t, int64(1), st.Followers)
	assert.Equal(t, int64(1), st.Following)
}

func TestListAuthors(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	ctx := context.Background()

	ana := createTestUser(t, db, "ana", models.RoleAuthor)
	zed := createTestUser(t, db, "zed", models.RoleAdmin)
	mia := createTestUser(t, db, "mia", models.RoleAuthor)
	reader := createTestUser(t, db, "reader", models.RoleReader)
	other := createTestUser(t, db, "other", models.RoleReader)

	createTestPost(t, db, zed.ID, "z1", models.StatusPublished, 0)
	createTestPost(t, db, zed.ID, "z2", models.StatusPublished, 0)
	m1 := createTestPost(t, db, mia.ID, "m1", models.StatusPublished, 0)
	createTestPost(t, db, ana.ID, "a-draft", models.StatusDraft, 0)
	rate(t, db, reader.ID, m1.ID, 5)

	_, _, err := s.ToggleFollow(ctx, reader, ana)
	require.NoError(t, err)
	_, _, err = s.ToggleFollow(ctx, other, ana)
	require.NoError(t, err)
	_, _, err = s.ToggleFollow(ctx, reader, mia)
	require.NoError(t, err)

	usernames := func(authors []AuthorSummary) []string {
		out := make([]string, len(authors))
		for i, a := range authors {
			out[i] = a.Username
		}
		return out
	}

	t.Run("readers are excluded and names sort by default", func(t *testing.T) {
		authors, page, err := s.ListAuthors(ctx, "", "", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.Total)
		assert.Equal(t, []string{"ana", "mia", "zed"}, usernames(authors))
	})

	t.Run("sort by blogs", func(t *testing.T) {
		authors, _, err := s.ListAuthors(ctx, "", SortBlogs, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"zed", "mia", "ana"}, usernames(authors))
		assert.Equal(t, int64(2), authors[0].BlogCount)
		assert.Equal(t, int64(0), authors[2].BlogCount)
	})

	t.Run("sort by followers", func(t *testing.T) {
		authors, _, err := s.ListAuthors(ctx, "", SortFollowers, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"ana", "mia", "zed"}, usernames(authors))
		assert.Equal(t, int64(2), authors[0].FollowersCount)
	})

	t.Run("sort by rating", func(t *testing.T) {
		authors, _, err := s.ListAuthors(ctx, "", SortRating, 1)
		require.NoError(t, err)
		assert.Equal(t, "mia", authors[0].Username)
		assert.InDelta(t, 5.0, authors[0].AvgRating, 0.001)
	})

	t.Run("search covers bio", func(t *testing.T) {
		_, err := s.UpdateProfile(ctx, zed, ProfileInput{Bio: "Writes about Distributed Systems"}, nil)
		require.NoError(t, err)

		authors, page, err := s.ListAuthors(ctx, "distributed", "", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
		assert.Equal(t, []string{"zed"}, usernames(authors))

		authors, _, err = s.ListAuthors(ctx, "MI", "", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"mia"}, usernames(authors))
	})
}

func TestListAuthors_InactiveAndLiteralSearch(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	ctx := context.Background()

	pending := createTestUser(t, db, "an_b", models.RoleAuthor)
	require.NoError(t, db.Model(pending).Update("is_active", false).Error)
	createTestUser(t, db, "anxb", models.RoleAuthor)

	authors, page, err := s.ListAuthors(ctx, "", SortName, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, authors, 2)

	authors, _, err = s.ListAuthors(ctx, "n_b", SortName, 1)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, "an_b", authors[0].Username)

	_, page, err = s.ListAuthors(ctx, "%", SortName, 1)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListAuthors_PageSize(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, nil)
	for i := 0; i < AuthorsPageSize+2; i++ {
		createTestUser(t, db, "author"+string(rune('a'+i)), models.RoleAuthor)
	}

	authors, page, err := s.ListAuthors(context.Background(), "", SortName, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, authors, 2)
}

func TestUpdateProfile(t *testing.T) {
	db := setupTestDB(t)
	store := &memoryStore{}
	s := NewService(db, store)
	user := createTestUser(t, db, "ana", models.RoleAuthor)
	ctx := context.Background()

	t.Run("valid input with picture", func(t *testing.T) {
		profile, err := s.UpdateProfile(ctx, user, ProfileInput{
			Bio:       "Hello",
			Website:   "https://ana.dev",
			Twitter:   "@ana",
			GitHub:    "ana-codes",
			Location:  "Lisbon",
			BirthDate: "1990-04-01",
		}, pngHeader(t))
		require.NoError(t, err)

		assert.Equal(t, "ana", profile.Twitter)
		require.NotNil(t, profile.BirthDate)
		assert.Equal(t, 1990, profile.BirthDate.Year())
		require.Len(t, store.keys, 1)
		assert.Contains(t, store.keys[0], "profile_pictures/")
		assert.Equal(t, "https://media.test/"+store.keys[0], profile.ProfilePicture)

		links := profile.SocialLinks()
		require.Len(t, links, 3)
		assert.Equal(t, "https://twitter.com/ana", links[1].URL)
		assert.Equal(t, "https://github.com/ana-codes", links[2].URL)
	})

	t.Run("picture is kept when none is uploaded", func(t *testing.T) {
		profile, err := s.UpdateProfile(ctx, user, ProfileInput{Bio: "Updated"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Updated", profile.Bio)
		assert.NotEmpty(t, profile.ProfilePicture)
		assert.Empty(t, profile.Website)
	})

	t.Run("handles may be given as links", func(t *testing.T) {
		profile, err := s.UpdateProfile(ctx, user, ProfileInput{
			Twitter:   "https://twitter.com/ana",
			GitHub:    "https://github.com/ana",
			Instagram: "@ana.pics",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://twitter.com/ana", profile.Twitter)

		links := map[string]string{}
		for _, link := range profile.SocialLinks() {
			links[link.Name] = link.URL
		}
		assert.Equal(t, "https://twitter.com/ana", links["Twitter"])
		assert.Equal(t, "https://github.com/ana", links["GitHub"])
		assert.Equal(t, "https://instagram.com/ana.pics", links["Instagram"])
	})

	t.Run("invalid fields", func(t *testing.T) {
		cases := map[string]ProfileInput{
			"website":    {Website: "not a url"},
			"twitter":    {Twitter: "ana smith"},
			"birth date": {BirthDate: "01/04/1990"},
			"bio":        {Bio: string(bytes.Repeat([]byte("a"), 501))},
		}
		for name, in := range cases {
			_, err := s.UpdateProfile(ctx, user, in, nil)
			assert.ErrorIs(t, err, common.ErrValidation, name)
		}
	})
}
