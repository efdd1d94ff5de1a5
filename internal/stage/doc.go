// Package stage provides the client used to call remote decision stages.
//
// A stage is an independently deployed scoring service (extraction, property
// evaluation, credit score, debt ratio, decision, explanation, approval). Each
// stage is described by a Contract: the operation it exposes, its response
// namespace, the typed fields it returns with their per-field defaults, a JSON
// Schema the extracted values must satisfy, and the value the pipeline falls
// back to when the stage cannot be used.
//
// # Calling a stage
//
//	score, ok := stage.Invoke(ctx, client, stage.CreditScoreContract, stage.CreditScoreRequest{...})
//
// Invoke never returns an error. Network failures, timeouts, non-2xx statuses,
// undecodable bodies and schema violations all resolve to the contract default
// with ok=false, after emitting one diagnostic log record and one trace span.
//
// # Wire formats
//
// Two codecs are provided. The SOAP codec speaks SOAP 1.1 envelopes, which is
// what the deployed stages expose:
//
//	POST <stage_url>
//	Content-Type: text/xml; charset=utf-8
//	SOAPAction: ComputeCreditScore
//
//	<soapenv:Envelope xmlns:soapenv="..." xmlns:urn="urn:creditscore.service:v1">
//	  <soapenv:Body>
//	    <urn:ComputeCreditScore>
//	      <urn:debt>5000</urn:debt> ...
//	    </urn:ComputeCreditScore>
//	  </soapenv:Body>
//	</soapenv:Envelope>
//
// The JSON codec uses a webhook-style body:
//
//	{"operation": "ComputeCreditScore", "namespace": "urn:creditscore.service:v1", "params": {...}}
//
// and expects {"namespace": "...", "result": {...}} back.
//
// # Field resolution
//
// Response fields are located by a Resolver, an ordered list of strategies.
// The default resolver first looks for the field in the contract namespace and
// then by local name alone, so a stage that declares a different namespace
// than expected still yields its values.
package stage
