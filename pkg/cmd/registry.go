// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/flowion/flowion/pkg/registry"
	"github.com/flowion/flowion/pkg/workers/httpcall"
	"github.com/flowion/flowion/pkg/workers/logworker"
	"github.com/flowion/flowion/pkg/workers/store"
	"github.com/flowion/flowion/pkg/workers/transform"
)

func registerWorkerPlugins(reg *registry.Registry, pluginsPath string) {
	plugins, err := reg.LoadWorkerPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range plugins {
		reg.RegisterWorker(plugin)
	}
}

func registerNativeWorkers(reg *registry.Registry, redisClient *redis.Client) {
	reg.RegisterWorker(httpcall.NewFactory())
	reg.RegisterWorker(transform.NewFactory())
	reg.RegisterWorker(logworker.NewFactory())
	reg.RegisterWorker(store.NewFactory(redisClient))
}

// NewRegistry builds the worker registry with the native worker types plus
// any .so plugins found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string, redisClient *redis.Client) *registry.Registry {
	reg := registry.NewRegistry(log)

	if pluginsPath != "" {
		registerWorkerPlugins(reg, pluginsPath)
	}

	registerNativeWorkers(reg, redisClient)

	return reg
}

// NewRedisClient connects to Redis for the store worker and the completion
// queue. Returns nil when no URL is configured; consumers treat a nil client
// as the feature being disabled.
func NewRedisClient(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(err)
	}

	return redis.NewClient(opts)
}
