package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aihub/msgsearch-go/internal/di"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// MessageController 消息入库控制器
// Kafka未启用时由HTTP接口驱动入库管道
type MessageController struct {
	BaseController
	pipeline *semantic.IngestionPipeline
	validate *validator.Validate
}

// NewMessageController 创建消息控制器
func NewMessageController(pipeline *semantic.IngestionPipeline) *MessageController {
	return &MessageController{
		pipeline: pipeline,
		validate: validator.New(),
	}
}

// Prepare beego按类型重建控制器实例，未导出字段从容器补齐
func (c *MessageController) Prepare() {
	if c.pipeline == nil && di.GetContainer() != nil {
		_ = di.Invoke(func(p *semantic.IngestionPipeline) {
			c.pipeline = p
		})
	}
	if c.validate == nil {
		c.validate = validator.New()
	}
}

// Ingest 将一条已持久化的消息写入向量索引
func (c *MessageController) Ingest() {
	var msg semantic.Message
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &msg); err != nil {
		c.JSONError(http.StatusBadRequest, "请求体格式错误")
		return
	}
	if err := c.validate.Struct(&msg); err != nil {
		c.JSONError(http.StatusBadRequest, "消息字段不完整")
		return
	}

	if err := c.pipeline.IndexMessage(c.Ctx.Request.Context(), msg); err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message_id": msg.ID,
		"indexed":    true,
	})
}

// BatchIngestRequest 批量入库请求体
type BatchIngestRequest struct {
	Messages []semantic.Message `json:"messages" validate:"required,min=1,dive"`
}

// IngestBatch 批量写入向量索引，整批只调用一次向量化服务
func (c *MessageController) IngestBatch() {
	var req BatchIngestRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求体格式错误")
		return
	}
	if err := c.validate.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "消息列表不能为空")
		return
	}

	if err := c.pipeline.IndexMessages(c.Ctx.Request.Context(), req.Messages); err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"indexed": len(req.Messages),
	})
}

// Delete 级联删除消息对应的向量
// 删除范围限定在调用方身份名下，其他用户的向量不受影响
func (c *MessageController) Delete() {
	userID, ok := c.getAuthenticatedUserID()
	if !ok {
		return
	}

	messageID := c.Ctx.Input.Param(":id")
	if messageID == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return
	}

	if err := c.pipeline.RemoveMessage(c.Ctx.Request.Context(), userID, messageID); err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message_id": messageID,
		"deleted":    true,
	})
}
