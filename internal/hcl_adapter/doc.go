// Package hcl_adapter loads pipeline definitions written in HCL and
// translates them into the format-agnostic config.Model.
//
// A pipeline file declares stages:
//
//	stage "deploy" {
//	  name = "Deploy"
//
//	  step "ship" {
//	    command = "./deploy.sh ${env.DEPLOY_HOST}"
//	  }
//
//	  dependency "package_backend" {
//	    reuse_builds   = "ALWAYS"
//	    on_failure     = "CANCEL"
//	    artifact_rules = ["build/libs/*.jar => app"]
//	  }
//
//	  trigger "finish" {
//	    stage           = "package_frontend"
//	    successful_only = true
//	  }
//	}
package hcl_adapter
