package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/msgsearch-go/internal/semantic"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateSearchController 创建检索控制器
func (f *ControllerFactory) CreateSearchController() (*SearchController, error) {
	var searchService *semantic.SearchService

	err := f.container.Invoke(func(ss *semantic.SearchService) {
		searchService = ss
	})

	if err != nil {
		return nil, err
	}

	return NewSearchController(searchService), nil
}

// CreateMessageController 创建消息控制器
func (f *ControllerFactory) CreateMessageController() (*MessageController, error) {
	var pipeline *semantic.IngestionPipeline

	err := f.container.Invoke(func(p *semantic.IngestionPipeline) {
		pipeline = p
	})

	if err != nil {
		return nil, err
	}

	return NewMessageController(pipeline), nil
}

// CreateHealthController 创建健康检查控制器
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	var controller *HealthController

	err := f.container.Invoke(func(cache semantic.EmbeddingCache, embedder semantic.Embedder, index semantic.VectorIndex) {
		controller = NewHealthController(cache, embedder, index)
	})

	if err != nil {
		return nil, err
	}

	return controller, nil
}
