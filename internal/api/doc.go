// Package api 通过 HTTP JSON 接口提交签名交易并读取解码后的链上状态。
package api
