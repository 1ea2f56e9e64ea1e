package cache

import (
	"encoding/json"
	"fmt"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	recentPostsKey = "posts::recent"
	// recent posts get invalidated on each mutation anyway, the expiry
	// is just a safety net
	recentPostsExpireSeconds = 5 * 60
)

// PostsCache keeps hot read results (currently the recent posts list)
// in memory, in front of postgres.
type PostsCache struct {
	cache *freecache.Cache
}

func NewPostsCache() *PostsCache {
	megabyte := 1024 * 1024
	return &PostsCache{
		cache: freecache.NewCache(10 * megabyte),
	}
}

// GetRecent returns the cached recent posts list, unmarshalled into dest.
func (c *PostsCache) GetRecent(dest any) bool {
	recentBytes, err := c.cache.Get([]byte(recentPostsKey))
	if err != nil {
		// freecache returns an error on a plain miss too
		return false
	}
	if err := json.Unmarshal(recentBytes, dest); err != nil {
		log.Errorf("posts cache: unmarshal recent posts: %s", err)
		return false
	}
	return true
}

func (c *PostsCache) SetRecent(posts any) error {
	postsBytes, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("marshal recent posts: %w", err)
	}
	if err := c.cache.Set([]byte(recentPostsKey), postsBytes, recentPostsExpireSeconds); err != nil {
		return fmt.Errorf("set recent posts: %w", err)
	}
	return nil
}

// InvalidateRecent drops the recent posts entry, called after every
// successful create / update / delete.
func (c *PostsCache) InvalidateRecent() {
	c.cache.Del([]byte(recentPostsKey))
}
