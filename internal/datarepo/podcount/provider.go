// Package podcount reports how many members of the fleet are currently available to run per-file flights.
package podcount

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

type Provider interface {
	// ActivePodCount is always at least 1.
	ActivePodCount(ctx context.Context) (int, error)
}

// Static reports a fixed pod count.
type Static int

func (s Static) ActivePodCount(context.Context) (int, error) {
	if s < 1 {
		return 1, nil
	}
	return int(s), nil
}

const podCountCacheKey = "activePods"

type cachedCount struct {
	count   int
	expires time.Time
}

// KubernetesProvider counts the Running pods of the fleet's deployment. A count is reused for cacheTTL.
type KubernetesProvider struct {
	client        kubernetes.Interface
	namespace     string
	labelSelector string
	cacheTTL      time.Duration
	cache         *cache.Cache
	clock         clock.Clock
}

func NewKubernetesProvider(
	client kubernetes.Interface,
	namespace string,
	labelSelector string,
	cacheTTL time.Duration,
	clock clock.Clock,
) *KubernetesProvider {
	return &KubernetesProvider{
		client:        client,
		namespace:     namespace,
		labelSelector: labelSelector,
		cacheTTL:      cacheTTL,
		cache:         cache.New(cache.NoExpiration, 0),
		clock:         clock,
	}
}

func (p *KubernetesProvider) ActivePodCount(ctx context.Context) (int, error) {
	if cached, found := p.cache.Get(podCountCacheKey); found {
		entry := cached.(cachedCount)
		if p.clock.Now().Before(entry.expires) {
			return entry.count, nil
		}
	}

	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: p.labelSelector})
	if err != nil {
		return 0, datarepoerrors.Retryable(errors.Wrapf(err, "listing pods in namespace %s", p.namespace))
	}
	count := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == v1.PodRunning && pod.DeletionTimestamp == nil {
			count++
		}
	}
	if count < 1 {
		// The caller is itself a member, even if it is not yet reported as Running.
		log.WithField("namespace", p.namespace).Warnf("No running pods match %q, assuming 1", p.labelSelector)
		count = 1
	}
	p.cache.SetDefault(podCountCacheKey, cachedCount{count: count, expires: p.clock.Now().Add(p.cacheTTL)})
	return count, nil
}
