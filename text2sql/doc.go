// Package text2sql implements the chat-to-SQL pipeline run by the
// orchestrator.
//
// Stages communicate only through topic messages scoped to the run id:
//
//	QueryMessage          -> schema_retriever
//	SchemaContextMessage  -> query_analyzer (optional) or sql_generator
//	AnalysisMessage       -> sql_generator
//	SQLMessage            -> sql_executor
//	SQLResultMessage      -> sql_explainer
//	SQLExplanationMessage -> visualization_recommender (optional)
//
// Every message embeds core.QueryContext, so a stage never needs to look
// back at earlier messages. Each stage reports its work as one stream event;
// the last enabled stage emits the terminal success event whose Result is a
// QueryResult. Mandatory stages that cannot continue (no SQL in the model
// response, a statement that is not read-only, a failing query) end the run
// with a terminal error event of their own.
package text2sql
