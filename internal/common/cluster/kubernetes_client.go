package cluster

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

// NewKubernetesClient builds a client from the in-cluster configuration, falling back to the default kubeconfig
// loading rules when running outside a cluster. All calls share one token bucket of qps and burst.
func NewKubernetesClient(qps float32, burst int) (kubernetes.Interface, error) {
	if qps <= 0 {
		return nil, errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    "qps",
			Value:   qps,
			Message: "qps must be positive",
		})
	}
	if burst <= 0 {
		return nil, errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    "burst",
			Value:   burst,
			Message: "burst must be positive",
		})
	}

	restConfig, err := loadConfig()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	restConfig.RateLimiter = flowcontrol.NewTokenBucketRateLimiter(qps, burst)

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return client, nil
}

func loadConfig() (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == rest.ErrNotInCluster {
		log.Info("Running with default client configuration")
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
	log.Info("Running with in cluster client configuration")
	return config, err
}
