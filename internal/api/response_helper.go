package api

import (
	"encoding/json"
	"net/http"
)

// ResponseData 统一响应结构
type ResponseData struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ResponseHelper 响应辅助工具
// 提供统一的API响应格式
type ResponseHelper struct{}

// NewResponseHelper 创建响应辅助工具
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 返回成功响应
func (h *ResponseHelper) Success(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, ResponseData{Success: true, Data: data})
}

// SuccessMessage 返回带消息的成功响应
func (h *ResponseHelper) SuccessMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, ResponseData{Success: true, Message: message})
}

// Refuse 返回业务层拒绝：HTTP 200，success=false 加原因
// 用于多开冲突、敏感词命中、校验探测失败这类领域拒绝
func (h *ResponseHelper) Refuse(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, ResponseData{Success: false, Message: message})
}

// Error 返回错误响应
func (h *ResponseHelper) Error(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ResponseData{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// parseJSONBody 解析 JSON 请求体，未知字段忽略（客户端路由前向兼容）
func parseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseStrictJSONBody 解析 JSON 请求体，拒绝未知字段（管理端路由）
func parseStrictJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
