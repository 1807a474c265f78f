/*
Package dispatch 将一次提示执行转换为经过定价、缓存与重试的模型调用。

# 执行流程

 1. 计算指纹；启用缓存时在 single-flight 内查找
 2. 预算检查与速率预留，拒绝立即失败
 3. 通过注册表解析 Provider
 4. 可重试错误按指数退避重试，每次尝试重新预留速率
 5. 成功后计价、写缓存、记录历史与指标

ExecuteStream 与 Execute 共享准入逻辑；只有完整结束的流才会写入缓存，
且与非流式请求使用同一个键。
*/
package dispatch
