package cache

import (
	"context"
	"time"

	"github.com/karlseguin/ccache"

	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/twcc"
)

// DefaultExpiredTime is how long project and pod lookups stay cached.
const DefaultExpiredTime = 10 * time.Minute

// TWCCCache memoizes the lookups that rarely change between collection passes.
// Site listings and utilization series always go to the API.
type TWCCCache struct {
	API         twcc.API
	Project     *ccache.Cache
	Pod         *ccache.Cache
	ExpiredTime time.Duration
}

var _ twcc.API = &TWCCCache{}

func NewTWCCCache(api twcc.API, expiredTime time.Duration) *TWCCCache {
	if expiredTime <= 0 {
		expiredTime = DefaultExpiredTime
	}
	return &TWCCCache{
		API:         api,
		Project:     ccache.New(ccache.Configure().MaxSize(100).ItemsToPrune(10)),
		Pod:         ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
		ExpiredTime: expiredTime,
	}
}

func (r *TWCCCache) ResolveProject(ctx context.Context, name string) (twcc.ID, error) {
	cacheKey := "project:" + name
	cacheItem := r.Project.Get(cacheKey)
	if cacheItem == nil || cacheItem.Expired() {
		projectID, err := r.API.ResolveProject(ctx, name)
		if err != nil {
			return "", err
		}
		r.Project.Set(cacheKey, projectID, r.ExpiredTime)
		return projectID, nil
	}
	return cacheItem.Value().(twcc.ID), nil
}

func (r *TWCCCache) GetPodForSite(ctx context.Context, siteID twcc.ID) (*twcc.Pod, error) {
	cacheKey := "pod:" + siteID.String()
	cacheItem := r.Pod.Get(cacheKey)
	if cacheItem == nil || cacheItem.Expired() {
		pod, err := r.API.GetPodForSite(ctx, siteID)
		if err != nil {
			return nil, err
		}
		r.Pod.Set(cacheKey, pod, r.ExpiredTime)
		return pod, nil
	}
	return cacheItem.Value().(*twcc.Pod), nil
}

// InvalidatePod drops the cached pod of a site, e.g. after the site stopped
// being ready.
func (r *TWCCCache) InvalidatePod(siteID twcc.ID) {
	r.Pod.Delete("pod:" + siteID.String())
}

func (r *TWCCCache) ListSites(ctx context.Context, projectID twcc.ID) ([]twcc.DtoSite, error) {
	return r.API.ListSites(ctx, projectID)
}

func (r *TWCCCache) GetUtilization(ctx context.Context, siteID twcc.ID, podName string, query twcc.UtilizationQuery) (monitoring.Series, error) {
	return r.API.GetUtilization(ctx, siteID, podName, query)
}

// Stop releases the cache workers.
func (r *TWCCCache) Stop() {
	r.Project.Stop()
	r.Pod.Stop()
}
