// Package formpack 在 JSON 之外增加一条附件通道：把任意嵌套结构连同其中的二进制附件
// 打包成一个 multipart/form-data 请求体，并在接收端还原。
//
// 编码（Pack）时，结构中的每个二进制叶子（BinaryLeaf）被替换为一个令牌
// <TokenPrefix><UUIDv4>，JSON 文本放在保留字段 Protocol.JSONField 中，
// 每个附件作为一个以令牌命名的文件分段。
//
// 解码（Unpack）时，请求体交给 internal/formdata 解析，得到字段表与文件表；
// 可选的 MapFiles 回调并发地处理每个文件；最后解析 JSON 字段，
// 把形如令牌且能在文件表中找到同名分段的字符串替换为对应文件（或回调结果）。
//
// 注意：形如令牌但找不到同名分段的字符串会原样保留为普通字符串，不会报错。
// 调用方如果依赖附件一定存在，需要自行检查还原结果中的类型。
package formpack
